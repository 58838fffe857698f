// Package mailerr defines the error kinds shared by the mail service and
// their mapping onto HTTP status codes.
package mailerr

import (
	"errors"
	"net/http"
)

// Kind classifies an error for callers that need to translate it.
type Kind string

const (
	KindNotFound         Kind = "not-found"
	KindConflict         Kind = "conflict"
	KindForbidden        Kind = "forbidden"
	KindBadRequest       Kind = "bad-request"
	KindUnauthenticated  Kind = "unauthenticated"
	KindIndexUnavailable Kind = "index-unavailable"
	KindStoreUnavailable Kind = "store-unavailable"
)

// Error is a classified service error. Code is the stable machine-readable
// identifier returned to clients (e.g. "tag-not-found").
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the kind sentinel matching this error, so
// errors.Is(err, mailerr.ErrNotFound) holds for every not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == "" {
		return t.Kind == e.Kind
	}
	return t.Kind == e.Kind && t.Code == e.Code
}

// Kind sentinels. Match with errors.Is.
var (
	ErrNotFound         = &Error{Kind: KindNotFound, Message: "not found"}
	ErrConflict         = &Error{Kind: KindConflict, Message: "conflict"}
	ErrForbidden        = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrBadRequest       = &Error{Kind: KindBadRequest, Message: "bad request"}
	ErrUnauthenticated  = &Error{Kind: KindUnauthenticated, Message: "unauthenticated"}
	ErrIndexUnavailable = &Error{Kind: KindIndexUnavailable, Message: "index unavailable"}
	ErrStoreUnavailable = &Error{Kind: KindStoreUnavailable, Message: "store unavailable"}
)

func NotFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

func Forbidden(code, message string) *Error {
	return &Error{Kind: KindForbidden, Code: code, Message: message}
}

func BadRequest(code, message string) *Error {
	return &Error{Kind: KindBadRequest, Code: code, Message: message}
}

func Unauthenticated(code, message string) *Error {
	return &Error{Kind: KindUnauthenticated, Code: code, Message: message}
}

// IndexUnavailable wraps a store error caused by a missing or building index.
func IndexUnavailable(err error) *Error {
	return &Error{Kind: KindIndexUnavailable, Code: "index-unavailable", Message: "index unavailable", Err: err}
}

// StoreUnavailable wraps an unclassified store failure.
func StoreUnavailable(code string, err error) *Error {
	return &Error{Kind: KindStoreUnavailable, Code: code, Message: "store unavailable", Err: err}
}

// KindOf returns the kind of err. Unclassified errors are store-unavailable.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStoreUnavailable
}

// CodeOf returns the client-facing code of err.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return string(KindOf(err))
}

// HTTPStatus maps err onto the status code returned to clients.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindIndexUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
