package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	t.Run("Error returns message", func(t *testing.T) {
		err := &AppError{Code: "X", Message: "plain message"}
		assert.Equal(t, "plain message", err.Error())
	})

	t.Run("Error includes wrapped error", func(t *testing.T) {
		err := ProviderError("pexels", errors.New("HTTP 500"))
		assert.Contains(t, err.Error(), "provider pexels failed")
		assert.Contains(t, err.Error(), "HTTP 500")
	})

	t.Run("Is matches by code", func(t *testing.T) {
		err := NotFound("task", "abc")
		assert.True(t, errors.Is(err, &AppError{Code: CodeNotFound}))
		assert.False(t, errors.Is(err, &AppError{Code: CodeOverloaded}))
	})

	t.Run("Is matches sentinel through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("submit: %w", Overloaded(10, 10))
		assert.True(t, errors.Is(err, ErrOverloaded))
	})

	t.Run("ProviderTimeout keeps the cause", func(t *testing.T) {
		err := ProviderTimeout("openai", context.DeadlineExceeded)
		assert.True(t, errors.Is(err, ErrProviderTimeout))
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})
}

func TestGetStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid params", InvalidParams("script is required"), http.StatusBadRequest},
		{"not found", NotFound("task", "x"), http.StatusNotFound},
		{"overloaded", Overloaded(1, 1), http.StatusServiceUnavailable},
		{"no provider", NoProviderAvailable("speech"), http.StatusServiceUnavailable},
		{"unauthorized", Unauthorized(""), http.StatusUnauthorized},
		{"wrapped sentinel", fmt.Errorf("x: %w", ErrNotFound), http.StatusNotFound},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetStatusCode(tt.err))
		})
	}
}

func TestCode(t *testing.T) {
	assert.Equal(t, CodeNoProviderAvailable, Code(NoProviderAvailable("image")))
	assert.Equal(t, CodeCancelled, Code(fmt.Errorf("wrap: %w", ErrCancelled)))
	assert.Equal(t, CodeDiscarded, Code(Discarded("")))
	assert.Equal(t, CodeProviderTimeout, Code(errors.Join(ErrProviderTimeout, errors.New("x"))))
	assert.Equal(t, CodeInternal, Code(errors.New("boom")))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(NoProviderAvailable("speech")))
	assert.False(t, IsRetryable(InvalidParams("bad")))
	assert.False(t, IsRetryable(Discarded("")))
	assert.False(t, IsRetryable(ProviderRejected("x", errors.New("401"))))
	assert.True(t, IsRetryable(ProviderError("x", errors.New("500"))))
	assert.True(t, IsRetryable(ProviderTimeout("x", context.DeadlineExceeded)))
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "no speech provider available", Message(NoProviderAvailable("speech")))
	assert.Equal(t, "boom", Message(errors.New("boom")))
}
