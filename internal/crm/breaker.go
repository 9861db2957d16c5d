// =============================================================================
// Merchant Analytics - CRM Circuit Breaker
// =============================================================================

package crm

import (
	"log/slog"
	"sync"
	"time"
)

// Breaker is a consecutive-failure circuit breaker.
//
// STATES:
//   closed  calls pass through; each non-fatal failure bumps the counter
//   open    calls fail with ErrCircuitOpen until resetAfter has elapsed
//           since the last failure, then the breaker closes again
//
// A success resets the counter. FatalError results are never counted.
type Breaker struct {
	mu          sync.Mutex
	maxFailures int
	resetAfter  time.Duration
	failures    int
	open        bool
	lastFailure time.Time
	now         func() time.Time
	logger      *slog.Logger
}

// NewBreaker creates a closed breaker.
func NewBreaker(maxFailures int, resetAfter time.Duration, logger *slog.Logger) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Breaker{
		maxFailures: maxFailures,
		resetAfter:  resetAfter,
		now:         time.Now,
		logger:      logger,
	}
}

// Allow returns ErrCircuitOpen while the breaker is open.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return nil
	}
	if b.now().Sub(b.lastFailure) >= b.resetAfter {
		b.open = false
		b.failures = 0
		b.logger.Info("circuit breaker reset after timeout")
		return nil
	}
	return ErrCircuitOpen
}

// Record updates the breaker with the outcome of a call.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		return
	}
	if IsFatal(err) {
		return
	}

	b.failures++
	b.lastFailure = b.now()
	if !b.open && b.failures >= b.maxFailures {
		b.open = true
		b.logger.Warn("circuit breaker opened", slog.Int("failures", b.failures))
	}
}

// Execute runs fn when the breaker allows it and records the result.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn()
	b.Record(err)
	return err
}

// IsOpen reports the current state without resetting it.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}
