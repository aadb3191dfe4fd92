// Package apperrors defines the error taxonomy shared by the domain
// services and the HTTP layer. Services return *Error values for contract
// failures; handlers map Kind to an HTTP status without inspecting
// messages.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and for HTTP mapping.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindPersistence  Kind = "persistence"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindConflict     Kind = "conflict"
	KindInternal     Kind = "internal"
)

// Error is the application error carried across layer boundaries.
type Error struct {
	Kind    Kind              `json:"kind"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetail attaches a key/value pair surfaced in error responses.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func NotFound(resource string, id interface{}) *Error {
	return New(KindNotFound, fmt.Sprintf("%s %v not found", resource, id))
}

// Persistence wraps a storage failure. The cause is preserved for logs and
// errors.Is/As but is not serialized to clients.
func Persistence(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Message: op + " failed", Err: err}
}

func Unauthorized(message string) *Error {
	if message == "" {
		message = "authentication required"
	}
	return New(KindUnauthorized, message)
}

func Forbidden(capability string) *Error {
	return New(KindForbidden, "missing capability: "+capability)
}

func Conflict(message string) *Error {
	return New(KindConflict, message)
}

func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// From extracts the *Error in err's chain, or nil.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}

func kindIs(err error, k Kind) bool {
	if ae := From(err); ae != nil {
		return ae.Kind == k
	}
	return false
}

func IsValidation(err error) bool   { return kindIs(err, KindValidation) }
func IsNotFound(err error) bool     { return kindIs(err, KindNotFound) }
func IsPersistence(err error) bool  { return kindIs(err, KindPersistence) }
func IsUnauthorized(err error) bool { return kindIs(err, KindUnauthorized) }
func IsForbidden(err error) bool    { return kindIs(err, KindForbidden) }
func IsConflict(err error) bool     { return kindIs(err, KindConflict) }

// StatusCode maps an error to the HTTP status the handlers respond with.
func StatusCode(err error) int {
	ae := From(err)
	if ae == nil {
		return http.StatusInternalServerError
	}
	switch ae.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
