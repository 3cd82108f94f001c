package handler

import (
	"context"

	"github.com/roach88/rover/internal/model"
)

// Base implements every Handler method with a no-op. Embed it and override
// the entry points a handler cares about.
type Base struct {
	name     string
	identity Identity
	session  Session
}

// NewBase returns a Base for a handler named name.
func NewBase(name string, identity Identity, session Session) Base {
	return Base{name: name, identity: identity, session: session}
}

func (b Base) Name() string       { return b.name }
func (b Base) Identity() Identity { return b.identity }
func (b Base) Session() Session   { return b.session }

func (Base) OnSubmission(context.Context, *model.Item) (model.Outcome, error) {
	return model.NoMatch, nil
}

func (Base) OnLink(context.Context, *model.Item) (model.Outcome, error) {
	return model.NoMatch, nil
}

func (Base) OnTitleOnly(context.Context, *model.Item) (model.Outcome, error) {
	return model.NoMatch, nil
}

func (Base) OnComment(context.Context, *model.Item) (model.Outcome, error) {
	return model.NoMatch, nil
}

func (Base) OnUpdate(context.Context, model.Update) error { return nil }

func (Base) OnMessage(context.Context, model.Message) error { return nil }
