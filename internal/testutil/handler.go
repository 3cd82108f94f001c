package testutil

import (
	"context"
	"sync"

	"github.com/roach88/rover/internal/handler"
	"github.com/roach88/rover/internal/model"
)

// Call records one callback received by a FakeHandler.
type Call struct {
	// Entry is the item shape for reactions, "update" or "message".
	Entry  string
	ItemID string
}

// FakeHandler is a scriptable handler. Every reaction entry point delegates
// to ReactFunc (NoMatch when nil); OnUpdate and OnMessage delegate to
// UpdateFunc and MessageFunc.
type FakeHandler struct {
	handler.Base

	ReactFunc   func(ctx context.Context, item *model.Item) (model.Outcome, error)
	UpdateFunc  func(ctx context.Context, update model.Update) error
	MessageFunc func(ctx context.Context, msg model.Message) error

	mu      sync.Mutex
	calls   []Call
	updates []model.Update
}

// NewFakeHandler creates an anonymous handler.
func NewFakeHandler(name string) *FakeHandler {
	return &FakeHandler{Base: handler.NewBase(name, handler.Identity{Mode: handler.ModeAnonymous}, nil)}
}

// NewLoggedInFakeHandler creates a handler logged in through session.
func NewLoggedInFakeHandler(name string, session *FakeSession, selfIgnore bool) *FakeHandler {
	username, _ := session.Me(context.Background())
	return &FakeHandler{Base: handler.NewBase(name, handler.Identity{
		Mode:       handler.ModeLoggedIn,
		Username:   username,
		SelfIgnore: selfIgnore,
	}, session)}
}

// Factory returns a factory that always yields h.
func (h *FakeHandler) Factory() handler.Factory {
	return func(handler.Deps) (handler.Handler, error) { return h, nil }
}

func (h *FakeHandler) record(entry, itemID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, Call{Entry: entry, ItemID: itemID})
}

func (h *FakeHandler) react(ctx context.Context, item *model.Item) (model.Outcome, error) {
	h.record(string(item.Shape()), item.ID)
	if h.ReactFunc == nil {
		return model.NoMatch, nil
	}
	return h.ReactFunc(ctx, item)
}

func (h *FakeHandler) OnSubmission(ctx context.Context, item *model.Item) (model.Outcome, error) {
	return h.react(ctx, item)
}

func (h *FakeHandler) OnLink(ctx context.Context, item *model.Item) (model.Outcome, error) {
	return h.react(ctx, item)
}

func (h *FakeHandler) OnTitleOnly(ctx context.Context, item *model.Item) (model.Outcome, error) {
	return h.react(ctx, item)
}

func (h *FakeHandler) OnComment(ctx context.Context, item *model.Item) (model.Outcome, error) {
	return h.react(ctx, item)
}

func (h *FakeHandler) OnUpdate(ctx context.Context, update model.Update) error {
	h.record("update", update.ItemID)
	h.mu.Lock()
	h.updates = append(h.updates, update)
	h.mu.Unlock()
	if h.UpdateFunc == nil {
		return nil
	}
	return h.UpdateFunc(ctx, update)
}

func (h *FakeHandler) OnMessage(ctx context.Context, msg model.Message) error {
	h.record("message", msg.ID)
	if h.MessageFunc == nil {
		return nil
	}
	return h.MessageFunc(ctx, msg)
}

// Calls returns every callback received so far, in order.
func (h *FakeHandler) Calls() []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Call, len(h.calls))
	copy(out, h.calls)
	return out
}

// Updates returns the arguments of every OnUpdate call.
func (h *FakeHandler) Updates() []model.Update {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]model.Update, len(h.updates))
	copy(out, h.updates)
	return out
}
