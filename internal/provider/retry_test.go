package provider_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/retroterm/c64bridge/internal/provider"
)

func retryableErr() error {
	return &provider.RequestError{Provider: "test", Status: 429, Message: "rate limited", Retryable: true}
}

func terminalErr() error {
	return &provider.RequestError{Provider: "test", Status: 401, Message: "bad key"}
}

func TestRetry_TwoFailuresThenSuccess(t *testing.T) {
	policy := provider.RetryPolicy{MaxRetries: 3, BaseDelay: 20 * time.Millisecond}

	var stamps []time.Time
	attempts := 0
	err := policy.Do(context.Background(), func() error {
		stamps = append(stamps, time.Now())
		attempts++
		if attempts <= 2 {
			return retryableErr()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}

	first := stamps[1].Sub(stamps[0])
	second := stamps[2].Sub(stamps[1])
	if second < 2*first-(5*time.Millisecond) {
		t.Fatalf("backoff did not double: first=%v second=%v", first, second)
	}
}

func TestRetry_TerminalFailsImmediately(t *testing.T) {
	policy := provider.RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}

	attempts := 0
	err := policy.Do(context.Background(), func() error {
		attempts++
		return terminalErr()
	})
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
	var reqErr *provider.RequestError
	if !errors.As(err, &reqErr) || reqErr.Status != 401 {
		t.Fatalf("err = %v, want terminal RequestError", err)
	}
}

func TestRetry_BudgetExhausted(t *testing.T) {
	policy := provider.RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}

	attempts := 0
	err := policy.Do(context.Background(), func() error {
		attempts++
		return retryableErr()
	})
	// Initial attempt plus three retries.
	if attempts != 4 {
		t.Fatalf("attempts = %d, want 4", attempts)
	}
	if !provider.IsRetryable(err) {
		t.Fatalf("exhausted budget should surface the last error, got %v", err)
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	policy := provider.RetryPolicy{MaxRetries: 3, BaseDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- policy.Do(ctx, func() error {
			attempts++
			return retryableErr()
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}

func TestIsRetryable(t *testing.T) {
	if provider.IsRetryable(errors.New("plain")) {
		t.Fatal("plain errors are not retryable")
	}
	if !provider.IsRetryable(retryableErr()) {
		t.Fatal("expected retryable")
	}
	if provider.IsRetryable(terminalErr()) {
		t.Fatal("terminal RequestError must not be retryable")
	}
}
