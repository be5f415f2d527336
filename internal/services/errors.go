package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/unclejonsbank/backend/internal/fsm"
	"github.com/unclejonsbank/backend/internal/ledger"
)

// Error kinds. Compare with errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("action not permitted")
	ErrConflict     = errors.New("request already processed")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("too many attempts")
)

// Error is a domain error with a caller-facing message.
type Error struct {
	kind error
	msg  string
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return e.kind }

func newError(kind error, format string, args ...any) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

func validationError(format string, args ...any) error {
	return newError(ErrValidation, format, args...)
}

func forbiddenError(format string, args ...any) error {
	return newError(ErrForbidden, format, args...)
}

func conflictError(format string, args ...any) error {
	return newError(ErrConflict, format, args...)
}

func notFoundError(format string, args ...any) error {
	return newError(ErrNotFound, format, args...)
}

// HTTPStatus maps an error to its response status.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ledger.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, fsm.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// PublicMessage is the message safe to show the caller. Permission
// failures are always generic.
func PublicMessage(err error) string {
	switch HTTPStatus(err) {
	case http.StatusForbidden:
		return ErrForbidden.Error()
	case http.StatusInternalServerError:
		return "An Internal Error Occurred"
	case http.StatusConflict:
		var de *Error
		if errors.As(err, &de) {
			return de.msg
		}
		return ErrConflict.Error()
	}
	return err.Error()
}
