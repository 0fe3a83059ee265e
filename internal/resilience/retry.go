package resilience

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy parameterises Retry. Retryable distinguishes transient errors
// (e.g. uniqueness collisions) from fatal ones; a nil predicate retries
// every error.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	Jitter      float64
	Retryable   func(error) bool
	OnRetry     func(attempt int, err error)
}

// Retry runs fn until it succeeds, the predicate rejects the error, or the
// attempt budget is exhausted. Sleeps between attempts follow Backoff with
// the configured jitter and honour context cancellation.
func Retry(ctx context.Context, policy RetryPolicy, fn func(context.Context) error) error {
	if fn == nil {
		return errors.New("resilience: retry callback not provided")
	}
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	base := policy.BaseBackoff
	if base <= 0 {
		base = 50 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if policy.Retryable != nil && !policy.Retryable(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, lastErr)
		}
		timer := time.NewTimer(Backoff(base, attempt, policy.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
