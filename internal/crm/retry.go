// =============================================================================
// Merchant Analytics - CRM Retry
// =============================================================================

package crm

import (
	"context"
	"time"
)

// MaxBackoff caps every retry delay.
const MaxBackoff = 60 * time.Second

// RetryPolicy is exponential backoff: delay(n) = BaseDelay * 2^n, capped at
// MaxBackoff, for at most MaxAttempts calls.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Backoff returns the delay after the given zero-based attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= MaxBackoff {
			return MaxBackoff
		}
	}
	if d > MaxBackoff {
		return MaxBackoff
	}
	return d
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// attempts run out or ctx is done. The last error is returned.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(ctx); err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
