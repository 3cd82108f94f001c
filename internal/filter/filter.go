// Package filter decides whether an item may be dispatched to a handler.
//
// The decision is a pure query over stored dedup records and bans plus the
// handler's own identity. It never writes.
package filter

import (
	"context"
	"fmt"

	"github.com/roach88/rover/internal/model"
)

// Lookup is the read-only view of the store the filter needs.
// Implemented by *store.Store.
type Lookup interface {
	HasReacted(ctx context.Context, itemID, handler string) (bool, error)
	IsBanned(ctx context.Context, kind model.BanKind, subject, handler string) (bool, error)
}

// Reason explains why an item was refused. Empty when allowed.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonDuplicate   Reason = "duplicate"
	ReasonUserBanned  Reason = "user_banned"
	ReasonScopeBanned Reason = "scope_banned"
	ReasonSelf        Reason = "self"
)

// Decision is the result of ShouldDispatch.
type Decision struct {
	Allow  bool
	Reason Reason
}

var allow = Decision{Allow: true}

func deny(r Reason) Decision {
	return Decision{Reason: r}
}

// Target describes the handler an item would be dispatched to.
type Target struct {
	Name       string
	Username   string
	SelfIgnore bool
}

// Filter applies dedup, ban and self-authorship checks.
type Filter struct {
	lookup Lookup
}

// New creates a Filter reading from lookup.
func New(lookup Lookup) *Filter {
	return &Filter{lookup: lookup}
}

// ShouldDispatch reports whether item may be passed to the target handler.
//
// The item is refused when the handler already reacted to it, when its
// author or scope is banned for the handler (handler-scoped first, then
// global), or when the handler authored it and asked to ignore itself.
// The self check runs first because it needs no store access.
//
// A lookup error is returned with a zero Decision; callers must not dispatch.
func (f *Filter) ShouldDispatch(ctx context.Context, item *model.Item, target Target) (Decision, error) {
	if target.SelfIgnore && model.SameSubject(item.Author, target.Username) {
		return deny(ReasonSelf), nil
	}

	reacted, err := f.lookup.HasReacted(ctx, item.ID, target.Name)
	if err != nil {
		return Decision{}, fmt.Errorf("check dedup for %s: %w", item.ID, err)
	}
	if reacted {
		return deny(ReasonDuplicate), nil
	}

	if item.Author != "" {
		banned, err := f.lookup.IsBanned(ctx, model.BanUser, item.Author, target.Name)
		if err != nil {
			return Decision{}, fmt.Errorf("check user ban for %s: %w", item.ID, err)
		}
		if banned {
			return deny(ReasonUserBanned), nil
		}
	}

	if item.Scope != "" {
		banned, err := f.lookup.IsBanned(ctx, model.BanScope, item.Scope, target.Name)
		if err != nil {
			return Decision{}, fmt.Errorf("check scope ban for %s: %w", item.ID, err)
		}
		if banned {
			return deny(ReasonScopeBanned), nil
		}
	}

	return allow, nil
}
