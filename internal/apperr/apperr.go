// Package apperr defines the error taxonomy shared by the dispatcher, the
// event emitter and the plugin runtime, and the response shape the HTTP
// boundary serializes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error. Every kind carries a numeric code that doubles as
// the HTTP status.
type Kind string

const (
	KindBadRequest          Kind = "bad_request"
	KindNotAuthorized       Kind = "not_authorized"
	KindForbidden           Kind = "forbidden"
	KindNotFound            Kind = "not_found"
	KindUnprocessableEntity Kind = "unprocessable_entity"
	KindTooManyRequests     Kind = "too_many_requests"
	KindInternal            Kind = "internal_server_error"
	KindNotImplemented      Kind = "not_implemented"
	KindStartup             Kind = "startup_error"
)

// Code returns the status code for k.
func (k Kind) Code() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotAuthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindUnprocessableEntity:
		return http.StatusUnprocessableEntity
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	case KindNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// KindForCode maps a status code back to a kind. Unknown codes map to
// KindInternal.
func KindForCode(code int) Kind {
	switch code {
	case http.StatusBadRequest:
		return KindBadRequest
	case http.StatusUnauthorized:
		return KindNotAuthorized
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusUnprocessableEntity:
		return KindUnprocessableEntity
	case http.StatusTooManyRequests:
		return KindTooManyRequests
	case http.StatusNotImplemented:
		return KindNotImplemented
	default:
		return KindInternal
	}
}

// Sentinels usable with errors.Is.
var (
	ErrBadRequest          = &Error{Kind: KindBadRequest}
	ErrNotAuthorized       = &Error{Kind: KindNotAuthorized}
	ErrForbidden           = &Error{Kind: KindForbidden}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrUnprocessableEntity = &Error{Kind: KindUnprocessableEntity}
	ErrTooManyRequests     = &Error{Kind: KindTooManyRequests}
	ErrInternal            = &Error{Kind: KindInternal}
	ErrNotImplemented      = &Error{Kind: KindNotImplemented}
	ErrStartup             = &Error{Kind: KindStartup}
)

// Error is a classified failure. Cause is whatever value triggered it; when
// it is an error it participates in errors.Unwrap.
type Error struct {
	Kind    Kind
	Message string
	Cause   any
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Code())
	}
	if cerr, ok := e.Cause.(error); ok && cerr != nil {
		return fmt.Sprintf("%s: %v", msg, cerr)
	}
	return msg
}

// Code returns the numeric status for the error.
func (e *Error) Code() int {
	return e.Kind.Code()
}

// Fatal reports whether the error must stop the process from serving.
func (e *Error) Fatal() bool {
	return e.Kind == KindStartup
}

func (e *Error) Unwrap() error {
	if cerr, ok := e.Cause.(error); ok {
		return cerr
	}
	return nil
}

// Is matches any *Error of the same kind, so the package sentinels work with
// errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithCause returns a copy of e carrying cause.
func (e *Error) WithCause(cause any) *Error {
	cp := *e
	cp.Cause = cause
	return &cp
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func BadRequest(format string, args ...any) *Error {
	return newf(KindBadRequest, format, args...)
}

func NotAuthorized(format string, args ...any) *Error {
	return newf(KindNotAuthorized, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return newf(KindForbidden, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newf(KindNotFound, format, args...)
}

func UnprocessableEntity(format string, args ...any) *Error {
	return newf(KindUnprocessableEntity, format, args...)
}

func TooManyRequests(format string, args ...any) *Error {
	return newf(KindTooManyRequests, format, args...)
}

func Internal(format string, args ...any) *Error {
	return newf(KindInternal, format, args...)
}

func NotImplemented(format string, args ...any) *Error {
	return newf(KindNotImplemented, format, args...)
}

// Startup builds a fatal bootstrap error wrapping cause.
func Startup(cause error, format string, args ...any) *Error {
	e := newf(KindStartup, format, args...)
	if cause != nil {
		e.Cause = cause
	}
	return e
}

// KindOf returns the kind of err after normalization.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return Normalize(err).Kind
}

// IsKind reports whether err normalizes to kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
