package tts

import (
	"sync"
	"time"
)

// breakerState is the circuit state for the primary engine.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker trips the primary engine to degraded after Threshold
// consecutive failures inside Window. While open, Allow returns false
// until Cooldown elapses; then a single probe request is let through and
// its outcome closes or re-opens the circuit.
type Breaker struct {
	mu        sync.Mutex
	state     breakerState
	failures  []time.Time
	openedAt  time.Time
	threshold int
	window    time.Duration
	cooldown  time.Duration
	now       func() time.Time
}

// NewBreaker creates a circuit breaker.
func NewBreaker(threshold int, window, cooldown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a request may use the primary engine.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.state = breakerHalfOpen
			return true
		}
		return false
	case breakerHalfOpen:
		// One probe at a time; further requests go to secondary until
		// the probe reports.
		return false
	}
	return false
}

// Success records a successful primary call and closes the circuit.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.failures = b.failures[:0]
}

// Failure records a failed primary call, tripping the circuit when the
// threshold is reached within the sliding window.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	if b.state == breakerHalfOpen {
		b.state = breakerOpen
		b.openedAt = now
		return
	}

	b.failures = append(b.failures, now)
	cutoff := now.Add(-b.window)
	for len(b.failures) > 0 && b.failures[0].Before(cutoff) {
		b.failures = b.failures[1:]
	}

	if len(b.failures) >= b.threshold {
		b.state = breakerOpen
		b.openedAt = now
		b.failures = b.failures[:0]
	}
}

// State returns a human-readable circuit state.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}
