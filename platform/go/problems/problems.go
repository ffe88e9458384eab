// Package problems carries the client-visible outcome of a failed launch: a kind that selects
// the HTTP status, and a human readable detail returned verbatim as the response body.
package problems

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrMethodNotAllowed    = errors.New("method not allowed")
	ErrInvalidLaunch       = errors.New("invalid launch")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflicting binding")
	ErrUpstreamAuth        = errors.New("upstream rejected credentials")
	ErrUpstreamRejected    = errors.New("upstream rejected request")
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
)

// Error pairs a kind with the message shown to the user.
type Error struct {
	kind   error
	detail string
	cause  error
}

// New builds a problem of the given kind.
func New(kind error, format string, args ...any) *Error {
	return &Error{kind: kind, detail: fmt.Sprintf(format, args...)}
}

// Wrap is New with an underlying cause kept for errors.Is/As and logs.
func Wrap(kind error, cause error, format string, args ...any) *Error {
	return &Error{kind: kind, detail: fmt.Sprintf(format, args...), cause: cause}
}

func (e *Error) Error() string { return e.detail }

func (e *Error) Is(target error) bool { return target == e.kind }

func (e *Error) Unwrap() error { return e.cause }

// StatusCode maps an error to the launch endpoint's HTTP status. Anything that is not a
// problem is an internal failure.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed
	case errors.Is(err, ErrInvalidLaunch):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUpstreamAuth), errors.Is(err, ErrUpstreamRejected):
		return http.StatusBadGateway
	case errors.Is(err, ErrUpstreamUnreachable):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-facing text for err. Internal failures get a generic message so
// database or driver details never reach the browser.
func Message(err error) string {
	var p *Error
	if errors.As(err, &p) {
		return p.detail
	}
	return "Internal server error"
}
