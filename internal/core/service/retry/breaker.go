package retry

import (
	"loan-upload/internal/config"
	"sync"
	"time"
)

// BreakerState is the state of the channel-wide circuit breaker
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// Breaker counts consecutive failures across a whole channel. Once the failures
// inside the rolling window reach the threshold it opens; after the cool-down it
// lets attempts through again and the next success resets it.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	cooldown  time.Duration
	failures  []time.Time
	state     BreakerState
	openedAt  time.Time
	listeners []func(BreakerState)
}

// NewBreaker creates a Breaker. A threshold <= 0 disables it.
func NewBreaker(threshold int, window, cooldown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		state:     BreakerClosed,
	}
}

// BreakerFromConfig creates the breaker described by cfg
func BreakerFromConfig(cfg config.RetryConfig) *Breaker {
	return NewBreaker(cfg.BreakerThreshold, cfg.BreakerWindow, cfg.BreakerCooldown)
}

// OnStateChange registers fn, called outside the breaker lock on every state change
func (b *Breaker) OnStateChange(fn func(BreakerState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// State returns the state at now
func (b *Breaker) State(now time.Time) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked(now)
}

func (b *Breaker) stateLocked(now time.Time) BreakerState {
	if b.state == BreakerOpen && !now.Before(b.openedAt.Add(b.cooldown)) {
		return BreakerHalfOpen
	}
	return b.state
}

// Allow reports whether a new attempt may be issued at now, and if not how long to wait
func (b *Breaker) Allow(now time.Time) (bool, time.Duration) {
	if b == nil {
		return true, 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stateLocked(now) != BreakerOpen {
		return true, 0
	}
	return false, b.openedAt.Add(b.cooldown).Sub(now)
}

// RecordSuccess resets the breaker
func (b *Breaker) RecordSuccess(now time.Time) {
	if b == nil {
		return
	}
	b.mu.Lock()
	prev := b.stateLocked(now)
	b.failures = b.failures[:0]
	b.state = BreakerClosed
	listeners := b.listeners
	b.mu.Unlock()

	if prev != BreakerClosed {
		notify(listeners, BreakerClosed)
	}
}

// RecordFailure counts a retryable failure of the channel
func (b *Breaker) RecordFailure(now time.Time) {
	if b == nil || b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	prev := b.stateLocked(now)

	cutoff := now.Add(-b.window)
	kept := b.failures[:0]
	for _, at := range b.failures {
		if b.window <= 0 || at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	b.failures = append(kept, now)

	opened := false
	// a failure while half-open re-opens straight away
	if prev == BreakerHalfOpen || (prev == BreakerClosed && len(b.failures) >= b.threshold) {
		b.state = BreakerOpen
		b.openedAt = now
		opened = true
	}
	listeners := b.listeners
	b.mu.Unlock()

	if opened {
		notify(listeners, BreakerOpen)
	}
}

func notify(listeners []func(BreakerState), state BreakerState) {
	for _, fn := range listeners {
		fn(state)
	}
}
