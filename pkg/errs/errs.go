// Package errs defines the error taxonomy returned to callers of the proxy.
// Every error that leaves the dispatcher carries one of the Kind constants
// below so replies can report a stable kind next to a readable message.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the caller.
type Kind string

const (
	KindConfig            Kind = "config_error"
	KindValidation        Kind = "validation_error"
	KindUpstreamTerminal  Kind = "upstream_terminal_error"
	KindUpstreamRetryable Kind = "upstream_retryable_error"
	KindRetryExhausted    Kind = "retry_exhausted_error"
	KindCancelled         Kind = "cancellation_error"
	KindInternal          Kind = "internal_error"
)

// Error is a typed proxy error.
type Error struct {
	Kind    Kind
	Message string
	// Attempts is the number of upstream attempts made before the error was
	// produced. Zero when no upstream call was involved.
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind, so errors.Is(err, errs.Validation)
// style checks work against the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	Config         = &Error{Kind: KindConfig}
	Validation     = &Error{Kind: KindValidation}
	Terminal       = &Error{Kind: KindUpstreamTerminal}
	RetryExhausted = &Error{Kind: KindRetryExhausted}
	Cancelled      = &Error{Kind: KindCancelled}
)

// New creates an Error of the given kind.
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Configf creates a ConfigError with a formatted message.
func Configf(format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Message: fmt.Sprintf(format, args...)}
}

// Validationf creates a ValidationError with a formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the human-readable part of err without the kind prefix.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Err != nil {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Message
	}
	return err.Error()
}

// IsRetryExhausted reports whether err is a retry-exhausted error.
func IsRetryExhausted(err error) bool { return errors.Is(err, RetryExhausted) }

// IsCancelled reports whether err is a cancellation error.
func IsCancelled(err error) bool { return errors.Is(err, Cancelled) }

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return errors.Is(err, Validation) }
