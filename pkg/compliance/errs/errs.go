// Package errs defines the behavioural error taxonomy shared by the
// regulatory-access core and the diagnostic-session core: callers branch on
// *kind*, not on a language exception hierarchy.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by how the caller must react to it.
type Kind int

const (
	// KindUnknown is the zero value; treated as an internal/fatal error.
	KindUnknown Kind = iota
	// KindAuthenticationFailed means the token is missing, invalid, expired, or revoked.
	KindAuthenticationFailed
	// KindAuthorizationDenied means the policy engine rejected the request.
	KindAuthorizationDenied
	// KindValidationFailed means the input shape or value is out of range.
	KindValidationFailed
	// KindNotFound means the referenced entity does not exist.
	KindNotFound
	// KindConflict means a duplicate registration or an illegal state transition was attempted.
	KindConflict
	// KindTransient means a timeout or network error the caller should retry with backoff.
	KindTransient
	// KindFatal means the condition must abort startup or be escalated to an operator, never healed silently.
	KindFatal
)

// Error is the concrete error type carrying a Kind plus a message and
// optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus maps the Kind to the status code spec §6/§7 require.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindAuthenticationFailed:
		return http.StatusUnauthorized
	case KindAuthorizationDenied:
		return http.StatusForbidden
	case KindValidationFailed:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTransient:
		return http.StatusServiceUnavailable
	case KindFatal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func new_(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// AuthenticationFailed builds a 401-class error.
func AuthenticationFailed(message string, cause error) *Error {
	return new_(KindAuthenticationFailed, message, cause)
}

// AuthorizationDenied builds a 403-class error.
func AuthorizationDenied(message string, cause error) *Error {
	return new_(KindAuthorizationDenied, message, cause)
}

// ValidationFailed builds a 422-class error.
func ValidationFailed(message string, cause error) *Error {
	return new_(KindValidationFailed, message, cause)
}

// NotFound builds a 404-class error.
func NotFound(message string, cause error) *Error {
	return new_(KindNotFound, message, cause)
}

// Conflict builds a 409-class error.
func Conflict(message string, cause error) *Error {
	return new_(KindConflict, message, cause)
}

// Transient builds a retryable error.
func Transient(message string, cause error) *Error {
	return new_(KindTransient, message, cause)
}

// Fatal builds an error that must abort startup or page an operator.
func Fatal(message string, cause error) *Error {
	return new_(KindFatal, message, cause)
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or KindUnknown if err is not (or does not
// wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
