package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterTransientErrors(t *testing.T) {
	transient := errors.New("transient")
	calls := 0
	err := Retry(context.Background(), RetryPolicy{
		MaxAttempts: 5,
		BaseBackoff: time.Millisecond,
		Retryable:   func(error) bool { return true },
	}, func(context.Context) error {
		calls++
		if calls < 3 {
			return transient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryStopsOnFatalError(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	err := Retry(context.Background(), RetryPolicy{
		MaxAttempts: 5,
		BaseBackoff: time.Millisecond,
		Retryable:   func(err error) bool { return !errors.Is(err, fatal) },
	}, func(context.Context) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("fatal errors must not be retried, got %d calls", calls)
	}
}

func TestRetryExhaustsBudget(t *testing.T) {
	transient := errors.New("still broken")
	calls := 0
	retries := 0
	err := Retry(context.Background(), RetryPolicy{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		Retryable:   func(error) bool { return true },
		OnRetry:     func(int, error) { retries++ },
	}, func(context.Context) error {
		calls++
		return transient
	})
	if !errors.Is(err, transient) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 || retries != 2 {
		t.Fatalf("expected 3 calls and 2 retry notifications, got %d/%d", calls, retries)
	}
}

func TestRetryHonoursContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, RetryPolicy{MaxAttempts: 3}, func(context.Context) error {
		t.Fatal("callback must not run after cancellation")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
