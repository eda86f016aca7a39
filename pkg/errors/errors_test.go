package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", NotFound("product", "p1"), http.StatusNotFound},
		{"already exists", AlreadyExists("product", "p1"), http.StatusConflict},
		{"invalid input", InvalidInput("bad quantity"), http.StatusBadRequest},
		{"unauthorized", Unauthorized("no token"), http.StatusUnauthorized},
		{"forbidden", Forbidden("nope"), http.StatusForbidden},
		{"conflict", Conflict("version mismatch"), http.StatusConflict},
		{"insufficient stock", InsufficientStock("p1", 5, 2), http.StatusConflict},
		{"invariant violation", InvariantViolation("release exceeds reserved"), http.StatusInternalServerError},
		{"service unavailable", ServiceUnavailable("printer down"), http.StatusServiceUnavailable},
		{"wrapped sentinel", fmt.Errorf("outer: %w", ErrNotFound), http.StatusNotFound},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := InsufficientStock("p1", 10, 3)
	assert.True(t, errors.Is(err, ErrInsufficientStock))
	assert.Contains(t, err.Error(), "requested 10")
	assert.Contains(t, err.Error(), "sellable 3")
}

func TestWrappedAppErrorKeepsStatus(t *testing.T) {
	inner := NotFound("invoice", "inv-1")
	wrapped := fmt.Errorf("finalize: %w", inner)

	var appErr *AppError
	assert.True(t, errors.As(wrapped, &appErr))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(wrapped))
}
