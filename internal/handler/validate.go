package handler

import (
	"context"
	"fmt"
	"strings"
)

// ValidationError reports why a handler failed its integrity check.
type ValidationError struct {
	Handler string
	Reason  string
	Err     error
}

func (e *ValidationError) Error() string {
	name := e.Handler
	if name == "" {
		name = "<unnamed>"
	}
	if e.Err != nil {
		return fmt.Sprintf("handler %s: %s: %v", name, e.Reason, e.Err)
	}
	return fmt.Sprintf("handler %s: %s", name, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validate checks that h is fit to run.
//
// Every handler needs a name and a declared mode. Logged-in handlers need a
// username and a session that is actually logged in as that username
// (compared case-insensitively). Anonymous handlers must carry neither.
func Validate(ctx context.Context, h Handler) error {
	name := h.Name()
	invalid := func(reason string, err error) error {
		return &ValidationError{Handler: name, Reason: reason, Err: err}
	}

	if strings.TrimSpace(name) == "" {
		return invalid("name is empty", nil)
	}

	id := h.Identity()
	if !id.Mode.Valid() {
		return invalid(fmt.Sprintf("undeclared mode %q", id.Mode), nil)
	}

	session := h.Session()
	if id.Mode == ModeAnonymous {
		if id.Username != "" {
			return invalid("anonymous handler has a username", nil)
		}
		if session != nil {
			return invalid("anonymous handler has a session", nil)
		}
		return nil
	}

	if id.Username == "" {
		return invalid("logged-in handler has no username", nil)
	}
	if session == nil {
		return invalid("logged-in handler has no session", nil)
	}
	me, err := session.Me(ctx)
	if err != nil {
		return invalid("session check failed", err)
	}
	if !strings.EqualFold(me, id.Username) {
		return invalid(fmt.Sprintf("session is logged in as %q, want %q", me, id.Username), nil)
	}
	return nil
}
