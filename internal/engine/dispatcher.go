package engine

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/rover/internal/filter"
	"github.com/roach88/rover/internal/handler"
	"github.com/roach88/rover/internal/logger"
	"github.com/roach88/rover/internal/model"
)

// DispatchStore is the part of the store the dispatcher reads and writes.
// Implemented by *store.Store.
type DispatchStore interface {
	filter.Lookup
	RecordReaction(ctx context.Context, rec model.DedupRecord, entry model.StatsEntry) (bool, error)
	AddBan(ctx context.Context, ban model.Ban) (model.Ban, error)
}

// Result is what happened to one item at one handler. AutoBanned is set when
// a forbidden reply banned the item's scope for the handler.
type Result struct {
	Handler    string        `json:"handler"`
	Outcome    model.Outcome `json:"-"`
	Skipped    filter.Reason `json:"skipped,omitempty"`
	Attempts   int           `json:"attempts,omitempty"`
	AutoBanned bool          `json:"auto_banned,omitempty"`
	Err        error         `json:"-"`
}

// Status condenses the result into one word for traces and metrics.
func (r Result) Status() string {
	switch {
	case r.Skipped != filter.ReasonNone:
		return "skipped_" + string(r.Skipped)
	case r.AutoBanned:
		return "forbidden"
	case r.Err != nil:
		return "error"
	default:
		return r.Outcome.String()
	}
}

// Summary reports the dispatch of one item across all handlers, in
// registration order.
type Summary struct {
	ItemID  string   `json:"item_id"`
	Results []Result `json:"results"`
}

// Reacted returns the names of the handlers that reacted.
func (s Summary) Reacted() []string {
	var names []string
	for _, r := range s.Results {
		if r.Outcome == model.Reacted && r.Err == nil {
			names = append(names, r.Handler)
		}
	}
	return names
}

// Errors returns the isolated failures, in handler order.
func (s Summary) Errors() []error {
	var errs []error
	for _, r := range s.Results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errs
}

// Dispatcher passes items to every registered handler.
//
// Thread-safety: Dispatch may be called from several goroutines (one per
// stream). Handlers are invoked sequentially within one Dispatch call.
type Dispatcher struct {
	store    DispatchStore
	filter   *filter.Filter
	handlers []handler.Handler
	settings
}

// NewDispatcher creates a dispatcher over handlers in the given order.
func NewDispatcher(s DispatchStore, handlers []handler.Handler, opts ...Option) *Dispatcher {
	hs := make([]handler.Handler, len(handlers))
	copy(hs, handlers)
	return &Dispatcher{
		store:    s,
		filter:   filter.New(s),
		handlers: hs,
		settings: newSettings(opts),
	}
}

// Dispatch runs item through every handler. Failures are isolated per
// handler, logged, and reported in the Summary; Dispatch itself never fails.
func (d *Dispatcher) Dispatch(ctx context.Context, item *model.Item) Summary {
	summary := Summary{ItemID: item.ID, Results: make([]Result, 0, len(d.handlers))}
	if item.ID == "" {
		d.logger.WarnContext(ctx, "dropping item without id", "kind", item.Kind, "scope", item.Scope)
		return summary
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "rover.engine.dispatcher", ItemID: item.ID})
	sc := logger.StartSpan(ctx, "engine.dispatch",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("item.id", item.ID),
			attribute.String("item.kind", string(item.Kind)),
			attribute.String("item.shape", string(item.Shape())),
		),
	)
	defer sc.End()

	for _, h := range d.handlers {
		summary.Results = append(summary.Results, d.dispatchOne(sc.Context(), h, item))
	}
	return summary
}

func (d *Dispatcher) dispatchOne(ctx context.Context, h handler.Handler, item *model.Item) Result {
	name := h.Name()
	ctx = logger.WithLogFields(ctx, logger.LogFields{Handler: name})
	res := Result{Handler: name}
	start := time.Now()
	defer func() {
		d.metrics.Dispatched(name, res.Status(), time.Since(start))
	}()

	id := h.Identity()
	decision, err := d.filter.ShouldDispatch(ctx, item, filter.Target{
		Name:       name,
		Username:   id.Username,
		SelfIgnore: id.SelfIgnore,
	})
	if err != nil {
		res.Err = d.fail(ctx, CodeFilterFailed, name, item.ID, err)
		return res
	}
	if !decision.Allow {
		res.Skipped = decision.Reason
		d.logger.DebugContext(ctx, "item filtered", "handler", name, "item_id", item.ID, "reason", decision.Reason)
		return res
	}

	retry := d.retry
	retry.OnRetry = func(attempt int, err error) {
		d.metrics.Retried(name)
		d.logger.WarnContext(ctx, "retrying handler",
			"handler", name,
			"item_id", item.ID,
			"attempt", attempt,
			"error", err,
		)
	}

	var outcome model.Outcome
	res.Attempts, err = retry.Do(ctx, func(actx context.Context) error {
		var callErr error
		outcome, callErr = handler.React(actx, h, item)
		return callErr
	})

	switch {
	case err == nil:
		res.Outcome = outcome
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrDeleted):
		d.logger.DebugContext(ctx, "item gone", "handler", name, "item_id", item.ID, "error", err)
		return res
	case errors.Is(err, model.ErrForbidden):
		res.Err = err
		res.AutoBanned = d.banScope(ctx, name, item)
		return res
	case errors.Is(err, ErrRetriesExhausted):
		res.Err = d.fail(ctx, CodeRetriesExhausted, name, item.ID, err)
		return res
	default:
		res.Err = d.fail(ctx, CodeHandlerFailed, name, item.ID, err)
		return res
	}

	if outcome != model.Reacted {
		return res
	}

	now := d.clock.Now()
	if _, err := d.store.RecordReaction(ctx,
		model.DedupRecord{ItemID: item.ID, Handler: name, CreatedAt: now},
		model.StatsEntry{
			ID:        d.ids.Generate(),
			ItemID:    item.ID,
			Handler:   name,
			Title:     item.DisplayTitle(),
			Author:    item.Author,
			Scope:     item.Scope,
			Permalink: item.Permalink,
			CreatedAt: now,
		},
	); err != nil {
		res.Err = d.fail(ctx, CodeStoreFailed, name, item.ID, err)
	}
	return res
}

// banScope bans item's scope for the handler after a forbidden reply.
// Reports whether the scope is banned afterwards.
func (d *Dispatcher) banScope(ctx context.Context, name string, item *model.Item) bool {
	d.logger.ErrorContext(ctx, "handler forbidden in scope",
		"handler", name,
		"item_id", item.ID,
		"scope", item.Scope,
	)
	if item.Scope == "" {
		return false
	}

	banned, err := d.store.IsBanned(ctx, model.BanScope, item.Scope, name)
	if err != nil {
		d.logger.ErrorContext(ctx, "check scope ban", "handler", name, "scope", item.Scope, "error", err)
		return false
	}
	if banned {
		return true
	}
	if _, err := d.store.AddBan(ctx, model.Ban{
		Kind:      model.BanScope,
		Subject:   item.Scope,
		Handler:   name,
		CreatedAt: d.clock.Now(),
	}); err != nil {
		d.logger.ErrorContext(ctx, "auto ban scope", "handler", name, "scope", item.Scope, "error", err)
		return false
	}
	d.logger.InfoContext(ctx, "scope banned after forbidden reply", "handler", name, "scope", item.Scope)
	return true
}

// fail logs and counts an isolated failure and returns it as a *DispatchError.
func (s *settings) fail(ctx context.Context, code ErrorCode, name, itemID string, err error) error {
	de := newDispatchError(code, name, itemID, err)
	s.metrics.DispatchError(name, string(code))
	trace.SpanFromContext(ctx).RecordError(de)

	attrs := []any{
		"code", string(code),
		"handler", name,
		"item_id", itemID,
		"error_type", errorType(err),
		"error", err,
	}
	var pe *PanicError
	if errors.As(err, &pe) {
		attrs = append(attrs, "stack", string(pe.Stack))
	}
	s.logger.ErrorContext(ctx, "dispatch failed", attrs...)
	return de
}

// Handlers returns the handlers in dispatch order.
func (d *Dispatcher) Handlers() []handler.Handler {
	out := make([]handler.Handler, len(d.handlers))
	copy(out, d.handlers)
	return out
}
