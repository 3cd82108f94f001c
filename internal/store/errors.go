package store

import "errors"

var (
	// ErrHandlerNotRegistered is returned when an operation names a handler
	// that has no registry row.
	ErrHandlerNotRegistered = errors.New("handler not registered")

	// ErrInconsistentRegistry is returned when a handler name resolves to more
	// than one registry row. The store refuses to guess which row is meant.
	ErrInconsistentRegistry = errors.New("handler name resolves to more than one registry row")

	// ErrInvalidTask is returned for deferred update requests with a
	// non-positive interval or lifetime.
	ErrInvalidTask = errors.New("invalid deferred task")
)
