package worker

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// backoff produces exponentially growing delays with additive jitter.
// Not safe for concurrent use; each task owns its own instance.
type backoff struct {
	base    time.Duration
	cap     time.Duration
	factor  float64
	jitter  float64
	attempt int
}

func newBackoff(base time.Duration, factor float64, cap time.Duration, jitter float64) *backoff {
	return &backoff{base: base, factor: factor, cap: cap, jitter: jitter}
}

// Next returns the delay for the current attempt and advances.
func (b *backoff) Next() time.Duration {
	delay := float64(b.base) * math.Pow(b.factor, float64(b.attempt))
	b.attempt++
	if delay > float64(b.cap) {
		delay = float64(b.cap)
	}
	if b.jitter > 0 {
		delay += delay * b.jitter * (2*rand.Float64() - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Reset rewinds to the first attempt.
func (b *backoff) Reset() {
	b.attempt = 0
}

// sleep waits for the given duration or until ctx is done.
func sleep(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
