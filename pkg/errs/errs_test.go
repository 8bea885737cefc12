package errs

import (
	"errors"
	"net/http"
	"testing"
)

func TestPersistenceKeepsBothErrors(t *testing.T) {
	cause := errors.New("connection reset")
	err := Persistence("insert booking", cause)
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence in chain: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause in chain: %v", err)
	}
	if Persistence("noop", nil) != nil {
		t.Fatalf("nil cause must stay nil")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{ErrInvalidLocation, http.StatusBadRequest, "invalid_location"},
		{Invalid("rating %d", 9), http.StatusBadRequest, "invalid_input"},
		{ErrNotAuthorized, http.StatusForbidden, "not_authorized"},
		{ErrNotFound, http.StatusNotFound, "not_found"},
		{ErrInvalidState, http.StatusConflict, "invalid_state"},
		{ErrAlreadyRated, http.StatusConflict, "already_rated"},
		{ErrProviderNotAssigned, http.StatusConflict, "provider_not_assigned"},
		{ErrQuotaExceeded, http.StatusTooManyRequests, "quota_exceeded"},
		{Persistence("x", errors.New("boom")), http.StatusInternalServerError, "internal"},
		{errors.New("unknown"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range cases {
		if got := HTTPStatus(tt.err); got != tt.status {
			t.Fatalf("HTTPStatus(%v)=%d, want %d", tt.err, got, tt.status)
		}
		if got := Code(tt.err); got != tt.code {
			t.Fatalf("Code(%v)=%q, want %q", tt.err, got, tt.code)
		}
	}
}
