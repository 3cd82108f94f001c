// Package handler defines the contract between the engine and the bots it
// drives.
//
// A handler reacts to items from the submission and comment streams, can
// ask for deferred updates of items it reacted to, and may own a session on
// the external service through which it reads its inbox. Handlers are built
// from an ordered list of named factories and validated before the engine
// starts; broken candidates are excluded, never fatal on their own.
//
// Helpers shared by most handlers (deferring an update, processing the
// inbox, the self-service ban procedure) are free functions in this package
// rather than methods on a base type.
package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/rover/internal/model"
)

// Mode says whether a handler acts through an account on the external service.
type Mode string

const (
	// ModeLoggedIn handlers own a session and a username.
	ModeLoggedIn Mode = "logged_in"
	// ModeAnonymous handlers only read.
	ModeAnonymous Mode = "anonymous"
)

// Valid reports whether m is a declared mode.
func (m Mode) Valid() bool {
	return m == ModeLoggedIn || m == ModeAnonymous
}

// Identity describes how a handler appears on the external service.
type Identity struct {
	Mode     Mode
	Username string
	// SelfIgnore drops items authored by Username before dispatch.
	SelfIgnore bool
}

// Session is a handler's authenticated connection to the external service.
type Session interface {
	// Me returns the username the session is logged in as.
	Me(ctx context.Context) (string, error)
	// Unread returns unread inbox messages, marking them read when markRead
	// is set.
	Unread(ctx context.Context, markRead bool) ([]model.Message, error)
	// ReplyMessage answers an inbox message.
	ReplyMessage(ctx context.Context, msgID, text string) error
}

// Handler is a bot driven by the engine.
//
// Exactly one of the reaction entry points is called per dispatched item,
// chosen by the item's shape. Returning model.Reacted records the item as
// handled so it is never dispatched to this handler again.
type Handler interface {
	Name() string
	Identity() Identity
	// Session returns nil for anonymous handlers.
	Session() Session

	OnSubmission(ctx context.Context, item *model.Item) (model.Outcome, error)
	OnLink(ctx context.Context, item *model.Item) (model.Outcome, error)
	OnTitleOnly(ctx context.Context, item *model.Item) (model.Outcome, error)
	OnComment(ctx context.Context, item *model.Item) (model.Outcome, error)

	// OnUpdate is called when a deferred task of this handler fires.
	OnUpdate(ctx context.Context, update model.Update) error
	// OnMessage is called for every unread inbox message.
	OnMessage(ctx context.Context, msg model.Message) error
}

// React calls the entry point of h that matches the item's shape.
func React(ctx context.Context, h Handler, item *model.Item) (model.Outcome, error) {
	switch item.Shape() {
	case model.ShapeComment:
		return h.OnComment(ctx, item)
	case model.ShapeLink:
		return h.OnLink(ctx, item)
	case model.ShapeTitleOnly:
		return h.OnTitleOnly(ctx, item)
	default:
		return h.OnSubmission(ctx, item)
	}
}

// Deferrer persists deferred update requests. Implemented by *store.Store.
type Deferrer interface {
	DeferUpdate(ctx context.Context, req model.DeferRequest, now time.Time) (model.DeferredTask, error)
}

// Bans is the ban list a handler may extend. Implemented by *store.Store.
type Bans interface {
	AddBan(ctx context.Context, ban model.Ban) (model.Ban, error)
	IsBanned(ctx context.Context, kind model.BanKind, subject, handler string) (bool, error)
}

// MessageSink stores inbox messages. Implemented by *store.Store.
type MessageSink interface {
	AddMessage(ctx context.Context, msg model.Message) (bool, error)
}

// Clock supplies wall time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Deps is everything a factory may use to build a handler.
type Deps struct {
	// Name is the registered name of the handler being built.
	Name string
	// Options holds the handler's own configuration.
	Options map[string]any
	// Session is set for handlers configured with an account.
	Session Session

	Deferrer Deferrer
	Bans     Bans
	Logger   *slog.Logger
	Clock    Clock
}

// Factory builds a handler from its dependencies.
type Factory func(Deps) (Handler, error)
