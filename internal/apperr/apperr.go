// Package apperr defines the platform's transport-agnostic error kinds.
//
// Every layer of the request-execution plane returns an *Error built with
// one of the constructors below instead of a bare error, so the HTTP
// surface (internal/httpapi) can map it onto a stable machine-readable
// code without re-deriving intent from error text.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the closed set of error classes the platform classifies errors into.
type Kind string

const (
	KindBadRequest    Kind = "BAD_REQUEST"
	KindUnauthorized  Kind = "UNAUTHORIZED"
	KindForbidden     Kind = "FORBIDDEN"
	KindNotFound      Kind = "NOT_FOUND"
	KindConflict      Kind = "CONFLICT"
	KindTooManyReqs   Kind = "TOO_MANY_REQUESTS"
	KindCrypto        Kind = "INTERNAL_ERROR"
	KindSchema        Kind = "VALIDATION_ERROR"
	KindDenied        Kind = "FORBIDDEN"
	KindTimeout       Kind = "INTERNAL_ERROR"
	KindUpstreamStore Kind = "INTERNAL_ERROR"
	KindUpstreamDB    Kind = "BAD_REQUEST"
	KindInternal      Kind = "INTERNAL_ERROR"
)

// Error is the platform's classed error type.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus maps the error kind onto the HTTP status it should surface as.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindBadRequest, KindSchema:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTooManyReqs:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func new(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

func BadRequest(format string, args ...any) *Error   { return new(KindBadRequest, nil, format, args...) }
func Unauthorized(format string, args ...any) *Error  { return new(KindUnauthorized, nil, format, args...) }
func Forbidden(format string, args ...any) *Error     { return new(KindForbidden, nil, format, args...) }
func NotFound(format string, args ...any) *Error      { return new(KindNotFound, nil, format, args...) }
func Conflict(format string, args ...any) *Error      { return new(KindConflict, nil, format, args...) }
func TooManyReqs(format string, args ...any) *Error   { return new(KindTooManyReqs, nil, format, args...) }
func Crypto(err error, format string, args ...any) *Error {
	return new(KindCrypto, err, format, args...)
}
func Schema(format string, args ...any) *Error { return new(KindSchema, nil, format, args...) }
func Denied(format string, args ...any) *Error { return new(KindDenied, nil, format, args...) }
func Timeout(format string, args ...any) *Error {
	return new(KindTimeout, nil, format, args...)
}
func UpstreamStore(err error, format string, args ...any) *Error {
	return new(KindUpstreamStore, err, format, args...)
}
func UpstreamDB(err error, format string, args ...any) *Error {
	return new(KindUpstreamDB, err, format, args...)
}
func Internal(err error, format string, args ...any) *Error {
	return new(KindInternal, err, format, args...)
}

// As extracts an *Error from any error chain, if present.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
