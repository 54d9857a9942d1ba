// Package apperr defines the error taxonomy shared by handlers, repositories
// and the provisioning flows. Each Kind maps to exactly one HTTP status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error.
type Kind string

const (
	KindAuthentication          Kind = "authentication"
	KindAuthorization           Kind = "authorization"
	KindValidation              Kind = "validation"
	KindConflict                Kind = "conflict"
	KindNotFound                Kind = "not_found"
	KindRateLimitExceeded       Kind = "rate_limit_exceeded"
	KindSagaCompensationFailure Kind = "saga_compensation_failure"
	KindInternal                Kind = "internal"
)

// SupportContact is attached to every compensation failure.
const SupportContact = "The operation could not be fully rolled back. Contact support with the identifiers listed so the leftover records can be removed."

// Error is the application error carried from the core to the handler boundary.
type Error struct {
	Kind    Kind
	Message string
	// Fields holds field-level validation detail.
	Fields map[string]string
	// OrphanIDs lists resources that may still exist after a failed rollback.
	OrphanIDs []string
	// OrphanResource names the resource type of OrphanIDs.
	OrphanResource string
	Support        string
	// Public marks an Internal message as safe to show the caller.
	Public bool
	Err    error
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

// Status returns the HTTP status for the error kind.
func (e *Error) Status() int {
	return StatusFor(e.Kind)
}

// StatusFor maps a Kind to its HTTP status code.
func StatusFor(k Kind) int {
	switch k {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Authentication returns a 401-class error.
func Authentication(message string) *Error {
	return &Error{Kind: KindAuthentication, Message: message}
}

// Authorization returns a 403-class error. The message is shown to the caller
// and must not describe other principals.
func Authorization(message string) *Error {
	return &Error{Kind: KindAuthorization, Message: message}
}

// Validation returns a 400-class error with optional field detail.
func Validation(message string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

// Conflict returns a 409-class error.
func Conflict(message string, err error) *Error {
	return &Error{Kind: KindConflict, Message: message, Err: err}
}

// NotFound returns a 404-class error.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// RateLimited returns a 429-class error.
func RateLimited(message string) *Error {
	return &Error{Kind: KindRateLimitExceeded, Message: message}
}

// CompensationFailure reports that a rollback could not remove every
// resource it created.
func CompensationFailure(message, resource string, orphanIDs []string, err error) *Error {
	return &Error{
		Kind:           KindSagaCompensationFailure,
		Message:        message,
		OrphanIDs:      orphanIDs,
		OrphanResource: resource,
		Support:        SupportContact,
		Err:            err,
	}
}

// Internal wraps an unexpected fault. The message is replaced before it
// reaches the client.
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// RolledBack reports a failed operation whose partial work was fully
// undone. It is a 500 whose message reaches the caller.
func RolledBack(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Public: true, Err: err}
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == k
}
