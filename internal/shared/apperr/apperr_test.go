package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusMapping(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.1:5432: i/o timeout")
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"invalid", E(ErrInvalidInput, "Teams cannot be the same."), http.StatusBadRequest, "Teams cannot be the same."},
		{"not found", E(ErrNotFound, "match not found"), http.StatusNotFound, "match not found"},
		{"conflict wrapped", fmt.Errorf("settle: %w", E(ErrConflict, "match already final")), http.StatusConflict, "match already final"},
		{"upstream hides cause", Wrap(ErrUpstream, cause, "store unavailable"), http.StatusServiceUnavailable, "store unavailable"},
		{"bare sentinel", ErrNotFound, http.StatusNotFound, "not found"},
		{"unknown", cause, http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg := Status(tt.err)
			if status != tt.status || msg != tt.message {
				t.Fatalf("got (%d, %q), want (%d, %q)", status, msg, tt.status, tt.message)
			}
		})
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(ErrUpstream, cause, "store unavailable")
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable with errors.Is")
	}
	if !errors.Is(err, ErrUpstream) {
		t.Fatal("expected kind to match")
	}
	if errors.Is(err, ErrConflict) {
		t.Fatal("kind must not match other sentinels")
	}
}
