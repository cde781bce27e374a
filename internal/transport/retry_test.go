package transport

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSendWithRetry_StopsAfterMaxAttempts(t *testing.T) {
	policy := RetryPolicy{BaseInterval: time.Millisecond, MaxAttempts: 3}
	attempts := 0

	err := SendWithRetry(context.Background(), policy, func(ctx context.Context) error {
		attempts++
		return ErrTransientIO
	})

	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestSendWithRetry_NonRetryableStopsImmediately(t *testing.T) {
	policy := RetryPolicy{BaseInterval: time.Millisecond, MaxAttempts: 3}
	attempts := 0
	sentinel := errors.New("auth failure")

	err := SendWithRetry(context.Background(), policy, func(ctx context.Context) error {
		attempts++
		return sentinel
	})

	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for non-retryable error, got %d", attempts)
	}
}

func TestSendWithRetry_SucceedsWithoutExhausting(t *testing.T) {
	policy := RetryPolicy{BaseInterval: time.Millisecond, MaxAttempts: 3}
	attempts := 0

	err := SendWithRetry(context.Background(), policy, func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return ErrTransientIO
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := NewCircuitBreaker()
	b.ReopenAfter = 10 * time.Millisecond

	for i := 0; i < b.FailureThreshold; i++ {
		b.RecordFailure()
	}

	if b.State() != BreakerOpen {
		t.Fatalf("expected breaker open after %d failures, got %s", b.FailureThreshold, b.State())
	}
	if b.Allow() {
		t.Fatal("expected Allow() false while open")
	}
}

func TestCircuitBreaker_HalfOpensAfterTimeout(t *testing.T) {
	b := NewCircuitBreaker()
	b.ReopenAfter = 10 * time.Millisecond

	for i := 0; i < b.FailureThreshold; i++ {
		b.RecordFailure()
	}

	time.Sleep(30 * time.Millisecond)

	if b.State() != BreakerHalfOpen {
		t.Fatalf("expected half-open after reopen timeout, got %s", b.State())
	}
}

func TestCircuitBreaker_SuccessInHalfOpenCloses(t *testing.T) {
	b := NewCircuitBreaker()
	b.ReopenAfter = 5 * time.Millisecond

	for i := 0; i < b.FailureThreshold; i++ {
		b.RecordFailure()
	}
	time.Sleep(15 * time.Millisecond)

	b.RecordSuccess()

	if b.State() != BreakerClosed {
		t.Fatalf("expected closed after success in half-open, got %s", b.State())
	}
}
