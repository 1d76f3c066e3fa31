package provider

import (
	"errors"
	"fmt"
)

// ErrorKind is the coarse classification a provider adapter assigns to a
// failure. StreamManager reports Kind unchanged as the error event's
// errorType; no finer classification is derived from HTTP status or
// provider-specific codes.
type ErrorKind string

// Error kinds.
const (
	ErrorAuth            ErrorKind = "auth"
	ErrorInvalidRequest  ErrorKind = "invalid_request"
	ErrorRateLimited     ErrorKind = "rate_limited"
	ErrorUnavailable     ErrorKind = "unavailable"
	ErrorUnknown         ErrorKind = "unknown"
)

// Error wraps a provider SDK error with a classification and optional
// retry-after hint.
type Error struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	RetryAfter float64 // seconds; 0 if unspecified
	cause      error
}

// NewError constructs a classified provider Error.
func NewError(kind ErrorKind, statusCode int, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, StatusCode: statusCode, cause: cause}
}

// Error implements error.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("provider error (%s): %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("provider error (%s): %s", e.Kind, e.Message)
}

// Unwrap returns the underlying SDK error, if any.
func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether StreamManager/RetryManager should schedule a
// retry for this error kind.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case ErrorRateLimited, ErrorUnavailable:
		return true
	case ErrorUnknown:
		return e.StatusCode == 0 || e.StatusCode >= 500
	default:
		return false
	}
}

// AsError extracts a *Error from err via errors.As.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
