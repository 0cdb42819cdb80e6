// Package retry tracks how many reconnect attempts remain for a stream.
package retry

import (
	"sync"
	"time"

	goretry "github.com/sethvargo/go-retry"

	"pkt.systems/pipetail/schema"
)

// Budget is a per-episode reconnect allowance. It is decremented on each
// failed attempt and restored by Reset once a connection is healthy again.
type Budget struct {
	mu        sync.Mutex
	initial   int
	remaining int
	base      time.Duration
	max       time.Duration
	backoff   goretry.Backoff
}

// Option configures a Budget.
type Option func(*Budget)

// WithBackoff delays reconnects exponentially from base, capped at max
// when max > 0. A zero base keeps reconnects immediate.
func WithBackoff(base, max time.Duration) Option {
	return func(b *Budget) {
		b.base = base
		b.max = max
	}
}

// NewBudget returns a Budget allowing attempts failures per episode.
// Non-positive attempts fall back to schema.DefaultRetryAttempts.
func NewBudget(attempts int, opts ...Option) *Budget {
	if attempts <= 0 {
		attempts = schema.DefaultRetryAttempts
	}
	b := &Budget{initial: attempts, remaining: attempts}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	b.backoff = b.newBackoff()
	return b
}

func (b *Budget) newBackoff() goretry.Backoff {
	if b.base <= 0 {
		return nil
	}
	backoff := goretry.NewExponential(b.base)
	if b.max > 0 {
		backoff = goretry.WithCappedDuration(b.max, backoff)
	}
	return backoff
}

// CanRetry reports whether another attempt is allowed.
func (b *Budget) CanRetry() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining > 0
}

// ConsumeAttempt records a failed attempt.
func (b *Budget) ConsumeAttempt() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining > 0 {
		b.remaining--
	}
}

// Reset restores the full allowance and restarts the backoff sequence.
func (b *Budget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remaining = b.initial
	b.backoff = b.newBackoff()
}

// Remaining returns the attempts left in the current episode.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

// Initial returns the configured allowance.
func (b *Budget) Initial() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initial
}

// NextDelay returns how long to wait before the next attempt.
func (b *Budget) NextDelay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.backoff == nil {
		return 0
	}
	delay, stop := b.backoff.Next()
	if stop {
		return 0
	}
	return delay
}
