package model

import "errors"

// Errors returned by the external service (item sources, sessions and the
// replies handlers make through them). Handlers return these, possibly
// wrapped, so the dispatcher can classify the failure.
var (
	// ErrForbidden means the account is not allowed to act in the item's scope.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound means the item no longer exists.
	ErrNotFound = errors.New("not found")
	// ErrDeleted means the item was deleted before the handler acted on it.
	ErrDeleted = errors.New("deleted")
	// ErrRateLimited means the call should be retried later.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnavailable means the service failed transiently.
	ErrUnavailable = errors.New("service unavailable")
)
