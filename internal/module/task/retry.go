package task

import (
	"context"
	"errors"
	"net/http"
	"time"

	apperrors "github.com/clipforge/server/internal/shared/errors"
)

// RetryPolicy bounds how a single provider call inside a step is retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Timeout applies to each attempt separately.
	Timeout time.Duration
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Timeout:     60 * time.Second,
	}
}

// Backoff returns the delay before retry number attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Retry runs fn until it succeeds, fails permanently, or attempts run out.
// An attempt that overruns its timeout surfaces as ProviderTimeout and any
// unclassified failure as ProviderError, both labelled with name.
func Retry[T any](ctx context.Context, p RetryPolicy, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := runAttempt(ctx, p.Timeout, fn)
		if err == nil {
			return result, nil
		}
		lastErr = classify(ctx, name, err)

		if !apperrors.IsRetryable(lastErr) || attempt == attempts {
			break
		}

		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}
	return zero, lastErr
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

// statusCoder is implemented by adapter errors that carry an HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

func classify(ctx context.Context, name string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return apperrors.ProviderTimeout(name, err)
	}
	var sc statusCoder
	if errors.As(err, &sc) && permanentStatus(sc.HTTPStatus()) {
		return apperrors.ProviderRejected(name, err)
	}
	return apperrors.ProviderError(name, err)
}

// permanentStatus reports whether a vendor status means the same request
// will keep failing. Timeouts and rate limits are worth another attempt.
func permanentStatus(code int) bool {
	if code < http.StatusBadRequest || code >= http.StatusInternalServerError {
		return false
	}
	return code != http.StatusRequestTimeout && code != http.StatusTooManyRequests
}
