// Package source delivers items from the submission and comment streams.
//
// A Source opens one Stream per kind. Streams hand out items one at a time
// in arrival order; an item must be acknowledged once every handler has seen
// it, and unacknowledged items may be delivered again after a restart.
package source

import (
	"context"
	"errors"

	"github.com/roach88/rover/internal/handler"
	"github.com/roach88/rover/internal/model"
)

// ErrMalformed wraps entries that could not be decoded into an item.
var ErrMalformed = errors.New("malformed entry")

// Source opens item streams.
type Source interface {
	Open(ctx context.Context, kind model.Kind) (Stream, error)
}

// Stream is one ordered stream of items.
type Stream interface {
	// Next returns the next item, or nil when nothing arrived within the
	// stream's wait period.
	Next(ctx context.Context) (*model.Item, error)
	// Ack marks an item as fully processed.
	Ack(ctx context.Context, item *model.Item) error
	Close() error
}

// Sessions creates account sessions for logged-in handlers.
type Sessions interface {
	Session(username string) handler.Session
}
