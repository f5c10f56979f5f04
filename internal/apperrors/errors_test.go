package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err      *AppError
		expected int
	}{
		{Validation("bad input"), http.StatusBadRequest},
		{NotFound("missing"), http.StatusNotFound},
		{RateLimit("blocked", nil), http.StatusTooManyRequests},
		{Proxy("upstream failed", nil), http.StatusBadGateway},
		{Scraper("parse failed", nil), http.StatusBadGateway},
		{Database("query failed", nil), http.StatusInternalServerError},
		{Internal("boom", nil), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.err.Kind), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.HTTPStatus())
		})
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(Validation("x")))
	assert.Equal(t, KindRateLimit, KindOf(fmt.Errorf("wrapped: %w", RateLimit("x", nil))))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, KindInternal, KindOf(nil))
}

func TestRetryableAndOperational(t *testing.T) {
	assert.True(t, IsRetryable(Proxy("x", nil)))
	assert.True(t, IsRetryable(RateLimit("x", nil)))
	assert.False(t, IsRetryable(Validation("x")))
	assert.False(t, IsRetryable(errors.New("plain")))

	assert.True(t, IsOperational(NotFound("x")))
	assert.False(t, IsOperational(Internal("x", nil)))
}

func TestUnwrapToSentinel(t *testing.T) {
	err := Proxy("no credential available", ErrNoCredential)
	assert.True(t, errors.Is(err, ErrNoCredential))

	wrapped := fmt.Errorf("fetch: %w", Scraper("validation failed", ErrContentMismatch))
	assert.True(t, errors.Is(wrapped, ErrContentMismatch))
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "VALIDATION: bad input", Validation("bad input").Error())
	assert.Equal(t, "PROXY_ERROR: upstream failed: connection refused",
		Proxy("upstream failed", errors.New("connection refused")).Error())
}
