package provider

import (
	"context"
	"time"
)

// RetryPolicy bounds how often a retryable failure is reattempted. The
// delay before attempt n+1 is BaseDelay << n.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryPolicy matches the service limits the bridge was tuned
// against: three retries, one second base delay, doubling.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, BaseDelay: time.Second}

// normalized fills zero values with the defaults so a partially configured
// client still retries sanely.
func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = DefaultRetryPolicy.MaxRetries
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultRetryPolicy.BaseDelay
	}
	return p
}

// Do runs attempt until it succeeds, fails terminally, or the retry budget
// is exhausted. Backoff sleeps honour ctx cancellation; an exhausted budget
// returns the last retryable error as-is (the caller treats anything that
// escapes as terminal).
func (p RetryPolicy) Do(ctx context.Context, attempt func() error) error {
	p = p.normalized()
	delay := p.BaseDelay
	var lastErr error
	for try := 0; ; try++ {
		lastErr = attempt()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || try >= p.MaxRetries {
			return lastErr
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
}
