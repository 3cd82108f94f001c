package engine

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes dispatch and tick failures.
type ErrorCode string

const (
	// CodeHandlerFailed: a reaction returned a non-transient error or panicked.
	CodeHandlerFailed ErrorCode = "HANDLER_FAILED"

	// CodeRetriesExhausted: every attempt under the RetryPolicy failed transiently.
	CodeRetriesExhausted ErrorCode = "RETRIES_EXHAUSTED"

	// CodeStoreFailed: a reaction succeeded but could not be recorded.
	CodeStoreFailed ErrorCode = "STORE_FAILED"

	// CodeFilterFailed: the ban/dedup lookup failed; the item was not dispatched.
	CodeFilterFailed ErrorCode = "FILTER_FAILED"

	// CodeUpdateFailed: a deferred update callback failed.
	CodeUpdateFailed ErrorCode = "UPDATE_FAILED"

	// CodeInboxFailed: reading or processing a handler's inbox failed.
	CodeInboxFailed ErrorCode = "INBOX_FAILED"
)

// DispatchError records a fault that was isolated to one handler and one
// item (or task). It is logged and counted, never returned to the stream.
type DispatchError struct {
	Code    ErrorCode
	Handler string
	ItemID  string
	Err     error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("%s: handler=%s item=%s: %v", e.Code, e.Handler, e.ItemID, e.Err)
	}
	return fmt.Sprintf("%s: handler=%s: %v", e.Code, e.Handler, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DispatchError) Unwrap() error {
	return e.Err
}

func newDispatchError(code ErrorCode, handler, itemID string, err error) *DispatchError {
	return &DispatchError{Code: code, Handler: handler, ItemID: itemID, Err: err}
}

// CodeOf returns the code of the first DispatchError in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Code, true
	}
	return "", false
}

func hasCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// IsHandlerFailure reports whether err is a HANDLER_FAILED dispatch error.
func IsHandlerFailure(err error) bool { return hasCode(err, CodeHandlerFailed) }

// IsRetriesExhausted reports whether err is a RETRIES_EXHAUSTED dispatch error.
func IsRetriesExhausted(err error) bool { return hasCode(err, CodeRetriesExhausted) }

// IsStoreFailure reports whether err is a STORE_FAILED dispatch error.
func IsStoreFailure(err error) bool { return hasCode(err, CodeStoreFailed) }

// IsFilterFailure reports whether err is a FILTER_FAILED dispatch error.
func IsFilterFailure(err error) bool { return hasCode(err, CodeFilterFailed) }

// PanicError wraps a value recovered from a panicking handler callback.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// IsPanic reports whether err carries a recovered panic.
func IsPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}

// errorType names the dynamic type of the innermost error for log lines.
// For joined errors the last one is followed.
func errorType(err error) string {
	for {
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			errs := u.Unwrap()
			if len(errs) == 0 {
				return fmt.Sprintf("%T", err)
			}
			err = errs[len(errs)-1]
		case interface{ Unwrap() error }:
			next := u.Unwrap()
			if next == nil {
				return fmt.Sprintf("%T", err)
			}
			err = next
		default:
			return fmt.Sprintf("%T", err)
		}
	}
}
