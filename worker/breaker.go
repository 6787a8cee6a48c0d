package worker

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker is a per-dependency circuit breaker. It opens after threshold
// failures within a rolling window, short-circuits calls while open, admits a
// single probe after the cooldown, and extends the cooldown on repeated opens.
type Breaker struct {
	mux       sync.Mutex
	threshold int
	window    time.Duration
	cooldown  time.Duration

	state    BreakerState
	failures []time.Time
	openedAt time.Time
	reopens  int

	now func() time.Time
}

// NewBreaker creates a closed Breaker.
func NewBreaker(threshold int, window, cooldown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. In the open state it admits a
// single probe once the cooldown elapsed, transitioning to half-open.
func (b *Breaker) Allow() bool {
	b.mux.Lock()
	defer b.mux.Unlock()
	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) >= b.effectiveCooldown() {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	default: // half-open, probe outstanding
		return false
	}
}

// Record reports the outcome of a call admitted by Allow.
func (b *Breaker) Record(ok bool) {
	b.mux.Lock()
	defer b.mux.Unlock()
	if ok {
		b.state = BreakerClosed
		b.failures = nil
		b.reopens = 0
		return
	}
	now := b.now()
	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
		b.openedAt = now
		b.reopens++
		return
	}
	cutoff := now.Add(-b.window)
	kept := b.failures[:0]
	for _, at := range b.failures {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	b.failures = append(kept, now)
	if len(b.failures) >= b.threshold {
		b.state = BreakerOpen
		b.openedAt = now
		b.reopens = 0
		b.failures = nil
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mux.Lock()
	defer b.mux.Unlock()
	return b.state
}

func (b *Breaker) effectiveCooldown() time.Duration {
	shift := b.reopens
	if shift > 4 {
		shift = 4
	}
	return b.cooldown << uint(shift)
}
