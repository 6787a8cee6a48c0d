package relay

import (
	"context"
	"time"

	"github.com/viant/toolrelay/kv"
)

// Limiter is a fixed-window rate limiter over the KV store's atomic counters.
// Counters are independent per (endpoint, scope); the first increment of a
// window arms the window TTL.
type Limiter struct {
	store  kv.Store
	window time.Duration
}

// NewLimiter creates a Limiter with the given window.
func NewLimiter(store kv.Store, window time.Duration) *Limiter {
	return &Limiter{store: store, window: window}
}

// Allow increments the counter for (endpoint, scope) and reports whether the
// post-increment value is within cap.
func (l *Limiter) Allow(ctx context.Context, endpoint, scope string, cap int) (bool, error) {
	value, err := l.store.IncrWindow(ctx, kv.RateLimitKey(endpoint, scope), l.window)
	if err != nil {
		return false, err
	}
	return value <= int64(cap), nil
}
