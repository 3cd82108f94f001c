package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Process exit codes.
const (
	ExitSuccess = 0
	// ExitFailure covers runtime failures: no active handler, an unreachable
	// source, failed scenarios.
	ExitFailure = 1
	// ExitCommandError covers bad invocations: flags, arguments, configuration
	// and an unusable database.
	ExitCommandError = 2
)

// ExitError carries the exit code a command failed with.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError creates an ExitError caused by err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps err to a process exit code. Errors that are not an
// ExitError are runtime failures.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Response is the envelope of every --format json document.
type Response struct {
	Status string         `json:"status"`
	Data   any            `json:"data,omitempty"`
	Error  *ErrorResponse `json:"error,omitempty"`
}

// ErrorResponse describes a failed command. Code is the exit code.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// OutputFormatter writes command results as text or JSON.
type OutputFormatter struct {
	Format string
	Writer io.Writer
	// ErrWriter receives diagnostics and failures so they never mix with
	// a JSON document on Writer. Nil falls back to Writer.
	ErrWriter io.Writer
	Verbose   bool
}

func (f *OutputFormatter) errWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// Render writes data in an "ok" envelope, or calls text for the
// human-readable form.
func (f *OutputFormatter) Render(data any, text func(w io.Writer) error) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Response{Status: "ok", Data: data})
	}
	return text(f.Writer)
}

// Fail reports err on the error writer: an "error" envelope carrying the
// exit code in JSON mode, a single "Error:" line otherwise.
func (f *OutputFormatter) Fail(err error) {
	if f.Format == "json" {
		_ = json.NewEncoder(f.errWriter()).Encode(Response{
			Status: "error",
			Error:  &ErrorResponse{Code: GetExitCode(err), Message: err.Error()},
		})
		return
	}
	fmt.Fprintf(f.errWriter(), "Error: %v\n", err)
}

// Verbosef writes a diagnostic line when --verbose is set.
func (f *OutputFormatter) Verbosef(format string, args ...any) {
	if f.Verbose {
		fmt.Fprintf(f.errWriter(), format+"\n", args...)
	}
}
