package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNoActiveHandlers is returned by NewRegistry when every candidate was
// excluded.
var ErrNoActiveHandlers = errors.New("no active handlers")

// Registrar records handler names in persistent storage.
// Implemented by *store.Store; registration must be idempotent.
type Registrar interface {
	RegisterHandler(ctx context.Context, name string) (bool, error)
}

// Candidate is one entry of the ordered handler list.
type Candidate struct {
	Name    string
	Factory Factory
	Options map[string]any
	// Session is the account session, nil for anonymous handlers.
	Session Session
}

// Exclusion records a candidate that did not make it into the registry.
type Exclusion struct {
	Name string
	Err  error
}

// Registry holds the active handlers in registration order.
type Registry struct {
	handlers []Handler
	seen     map[string]struct{}
	excluded []Exclusion
}

// NewRegistry builds, validates and registers the candidates in order.
//
// Shared dependencies come from deps; Name, Options and Session are taken
// from each candidate. A candidate whose factory fails, which fails
// Validate, or whose name is already taken is logged and excluded. Survivors
// are registered through r before NewRegistry returns. A registration error
// is returned as is since the store can no longer be trusted.
func NewRegistry(ctx context.Context, r Registrar, candidates []Candidate, deps Deps) (*Registry, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock
	}

	reg := &Registry{seen: make(map[string]struct{})}
	exclude := func(name string, err error) {
		logger.Error("handler excluded", "handler", name, "error", err)
		reg.excluded = append(reg.excluded, Exclusion{Name: name, Err: err})
	}

	for _, c := range candidates {
		if c.Factory == nil {
			exclude(c.Name, errors.New("no factory"))
			continue
		}
		d := deps
		d.Name = c.Name
		d.Options = c.Options
		d.Session = c.Session
		d.Logger = logger.With("handler", c.Name)

		h, err := c.Factory(d)
		if err != nil {
			exclude(c.Name, fmt.Errorf("build: %w", err))
			continue
		}
		if err := Validate(ctx, h); err != nil {
			exclude(c.Name, err)
			continue
		}
		if _, dup := reg.seen[h.Name()]; dup {
			exclude(h.Name(), errors.New("duplicate handler name"))
			continue
		}
		reg.handlers = append(reg.handlers, h)
		reg.seen[h.Name()] = struct{}{}
	}

	if len(reg.handlers) == 0 {
		return nil, ErrNoActiveHandlers
	}

	for _, h := range reg.handlers {
		inserted, err := r.RegisterHandler(ctx, h.Name())
		if err != nil {
			return nil, fmt.Errorf("register handler %s: %w", h.Name(), err)
		}
		if inserted {
			logger.Info("handler registered", "handler", h.Name())
		}
	}
	return reg, nil
}

// Handlers returns the active handlers in registration order.
func (r *Registry) Handlers() []Handler {
	out := make([]Handler, len(r.handlers))
	copy(out, r.handlers)
	return out
}

// Names returns the active handler names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.handlers))
	for i, h := range r.handlers {
		names[i] = h.Name()
	}
	return names
}

// Excluded returns the candidates that were dropped at construction.
func (r *Registry) Excluded() []Exclusion {
	out := make([]Exclusion, len(r.excluded))
	copy(out, r.excluded)
	return out
}

// Len returns the number of active handlers.
func (r *Registry) Len() int {
	return len(r.handlers)
}
