package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/roach88/rover/internal/handler"
	"github.com/roach88/rover/internal/model"
)

// ScriptType is the handler type of scripted scenario handlers.
const ScriptType = "script"

// scriptOptions configures a scripted handler.
//
//	react: reacted | no_match | panic | <service error name>
//	reply: text posted before reacting
//	fail_times: number of leading calls failing with fail_with
//	fail_with: service error name, unavailable by default
//	update: ok | panic | <service error name>
type scriptOptions struct {
	React     string `yaml:"react"`
	Reply     string `yaml:"reply"`
	FailTimes int    `yaml:"fail_times"`
	FailWith  string `yaml:"fail_with"`
	Update    string `yaml:"update"`
	Username  string `yaml:"username"`
}

// serviceErrors maps scenario error names to the errors handlers return.
var serviceErrors = map[string]error{
	"forbidden":    model.ErrForbidden,
	"not_found":    model.ErrNotFound,
	"deleted":      model.ErrDeleted,
	"rate_limited": model.ErrRateLimited,
	"unavailable":  model.ErrUnavailable,
}

// serviceError returns the error named name. Unknown names become plain
// errors carrying the name.
func serviceError(name string) error {
	if err, ok := serviceErrors[name]; ok {
		return err
	}
	return errors.New(name)
}

type scriptHandler struct {
	handler.Base

	opts scriptOptions

	mu    sync.Mutex
	calls int
}

// newScriptHandler is the handler.Factory of scripted handlers.
func newScriptHandler(d handler.Deps) (handler.Handler, error) {
	opts := scriptOptions{React: "reacted", FailWith: "unavailable", Update: "ok"}
	if len(d.Options) > 0 {
		data, err := yaml.Marshal(d.Options)
		if err != nil {
			return nil, fmt.Errorf("encode options: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&opts); err != nil {
			return nil, fmt.Errorf("decode options: %w", err)
		}
	}
	if opts.FailTimes < 0 {
		return nil, errors.New("fail_times must be non-negative")
	}

	id := handler.Identity{Mode: handler.ModeAnonymous}
	var session handler.Session
	if opts.Username != "" {
		id = handler.Identity{Mode: handler.ModeLoggedIn, Username: opts.Username, SelfIgnore: true}
		session = d.Session
	}
	return &scriptHandler{Base: handler.NewBase(d.Name, id, session), opts: opts}, nil
}

func (h *scriptHandler) react(ctx context.Context, item *model.Item) (model.Outcome, error) {
	h.mu.Lock()
	h.calls++
	call := h.calls
	h.mu.Unlock()

	if call <= h.opts.FailTimes {
		return model.NoMatch, fmt.Errorf("call %d: %w", call, serviceError(h.opts.FailWith))
	}

	switch h.opts.React {
	case "reacted":
		if h.opts.Reply != "" {
			if _, err := item.Reply(ctx, h.opts.Reply); err != nil {
				return model.NoMatch, fmt.Errorf("reply to %s: %w", item.ID, err)
			}
		}
		return model.Reacted, nil
	case "no_match":
		return model.NoMatch, nil
	case "panic":
		panic(fmt.Sprintf("%s crashed on %s", h.Name(), item.ID))
	default:
		return model.NoMatch, serviceError(h.opts.React)
	}
}

func (h *scriptHandler) OnSubmission(ctx context.Context, item *model.Item) (model.Outcome, error) {
	return h.react(ctx, item)
}

func (h *scriptHandler) OnLink(ctx context.Context, item *model.Item) (model.Outcome, error) {
	return h.react(ctx, item)
}

func (h *scriptHandler) OnTitleOnly(ctx context.Context, item *model.Item) (model.Outcome, error) {
	return h.react(ctx, item)
}

func (h *scriptHandler) OnComment(ctx context.Context, item *model.Item) (model.Outcome, error) {
	return h.react(ctx, item)
}

func (h *scriptHandler) OnUpdate(_ context.Context, u model.Update) error {
	switch h.opts.Update {
	case "ok":
		return nil
	case "panic":
		panic(fmt.Sprintf("%s crashed updating %s", h.Name(), u.ItemID))
	default:
		return serviceError(h.opts.Update)
	}
}
