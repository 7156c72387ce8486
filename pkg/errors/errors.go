// Package errors provides the error classification used across the custody
// core. Every error returned to a caller carries a Kind so transports can map
// it to a status without inspecting message text.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Kind classifies an error for callers.
type Kind string

const (
	// KindValidation marks malformed or out-of-range input. Caller-fixable.
	KindValidation Kind = "validation"
	// KindConflict marks operations that must not be retried as-is
	// (already signed, already executed, duplicate deposit hash).
	KindConflict Kind = "conflict"
	// KindPermission marks authorization failures (not a participant, not admin).
	KindPermission Kind = "permission"
	// KindState marks operations invalid in the entity's current state;
	// the caller must re-read state before retrying.
	KindState Kind = "state"
	// KindExternal marks ledger gateway failures, retryable with backoff.
	KindExternal Kind = "external"
	// KindNotFound marks missing entities.
	KindNotFound Kind = "not_found"
	// KindInternal marks unexpected internal faults. Details are logged,
	// never surfaced.
	KindInternal Kind = "internal"
)

// Error is the classified error type returned by all custody operations.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`

	cause error
}

var _ error = (*Error)(nil)

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// E builds a classified error.
func E(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(cause error, kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// Validation builds a KindValidation error.
func Validation(format string, args ...interface{}) *Error {
	return E(KindValidation, format, args...)
}

// Conflict builds a KindConflict error.
func Conflict(format string, args ...interface{}) *Error {
	return E(KindConflict, format, args...)
}

// Permission builds a KindPermission error.
func Permission(format string, args ...interface{}) *Error {
	return E(KindPermission, format, args...)
}

// State builds a KindState error.
func State(format string, args ...interface{}) *Error {
	return E(KindState, format, args...)
}

// External wraps a collaborator failure.
func External(cause error, format string, args ...interface{}) *Error {
	return Wrap(cause, KindExternal, format, args...)
}

// NotFound builds a KindNotFound error.
func NotFound(format string, args ...interface{}) *Error {
	return E(KindNotFound, format, args...)
}

// Internal wraps an unexpected fault.
func Internal(cause error, format string, args ...interface{}) *Error {
	return Wrap(cause, KindInternal, format, args...)
}

// KindOf extracts the Kind from an error chain. Unclassified errors report
// KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a kind to a transport status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindPermission:
		return http.StatusForbidden
	case KindState:
		return http.StatusUnprocessableEntity
	case KindExternal:
		return http.StatusBadGateway
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
