package errs

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidLocation     = errors.New("invalid location")
	ErrInvalidState        = errors.New("invalid state transition")
	ErrNotAuthorized       = errors.New("not authorized")
	ErrNotFound            = errors.New("not found")
	ErrQuotaExceeded       = errors.New("booking quota exceeded")
	ErrAlreadyRated        = errors.New("booking already rated")
	ErrProviderNotAssigned = errors.New("provider not assigned")
	ErrPersistence         = errors.New("persistence error")
	ErrInvalidInput        = errors.New("invalid input")
)

// Persistence wraps a store failure so that both ErrPersistence and the
// driver error remain reachable through errors.Is / errors.As.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// Invalid builds an ErrInvalidInput with a readable reason.
func Invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidLocation), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrAlreadyRated), errors.Is(err, ErrProviderNotAssigned):
		return http.StatusConflict
	case errors.Is(err, ErrQuotaExceeded):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Code is the stable machine-readable error code sent to clients.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidLocation):
		return "invalid_location"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrAlreadyRated):
		return "already_rated"
	case errors.Is(err, ErrProviderNotAssigned):
		return "provider_not_assigned"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	default:
		return "internal"
	}
}
