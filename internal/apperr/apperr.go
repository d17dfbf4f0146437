// Package apperr holds the error kinds that map to client-facing HTTP statuses.
// Any error not wrapping one of these is treated as a server failure.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// InvalidInput wraps ErrInvalidInput with a client-readable message.
func InvalidInput(msg string) error {
	return &kindError{kind: ErrInvalidInput, msg: msg}
}

// NotFound wraps ErrNotFound with a client-readable message.
func NotFound(msg string) error {
	return &kindError{kind: ErrNotFound, msg: msg}
}

// Unauthorized wraps ErrUnauthorized with a client-readable message.
func Unauthorized(msg string) error {
	return &kindError{kind: ErrUnauthorized, msg: msg}
}

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string {
	if e.msg == "" {
		return e.kind.Error()
	}
	return e.msg
}

func (e *kindError) Unwrap() error { return e.kind }

// Status returns the HTTP status for err.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Public reports whether err carries a message safe to show to clients.
func Public(err error) bool {
	return Status(err) != http.StatusInternalServerError
}

// Wrapf annotates err while keeping its kind.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Message returns the client-readable message of the innermost kind error,
// or fallback when err carries none.
func Message(err error, fallback string) string {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.Error()
	}
	return fallback
}
