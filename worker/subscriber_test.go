package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/toolrelay"
)

func newTestSubscriber(t *testing.T, handler http.Handler) *subscriber {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	config := &Config{BaseURL: server.URL, SessionCode: "ABCDEF23"}
	require.NoError(t, config.applyDefaults())
	out := make(chan *toolrelay.Request, 16)
	sup := newSupervisor(zerolog.Nop(), defaultCriticalThreshold)
	return newSubscriber(config, out, sup, zerolog.Nop())
}

func TestConsumeStreamFailureBeforeHandshakeResolvesBreaker(t *testing.T) {
	// The stream endpoint answers 200 and closes without sending any event,
	// so the connected handshake never arrives.
	sub := newTestSubscriber(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
	}))

	clock := newBreakerClock()
	breaker := NewBreaker(1, 30*time.Second, 10*time.Second)
	breaker.now = clock.Now
	sub.breaker = breaker

	breaker.Record(false) // open the circuit
	clock.Advance(10 * time.Second)

	connected, err := sub.consumeStream(context.Background())
	assert.False(t, connected)
	require.Error(t, err)
	assert.NotEqual(t, BreakerHalfOpen, breaker.State(),
		"an admitted call that dies before the handshake must not strand the breaker half-open")

	// The failed attempt reopened the circuit with a doubled cooldown; once it
	// elapses the stream channel is retryable again.
	clock.Advance(20 * time.Second)
	assert.True(t, breaker.Allow())
}

func TestConsumeStreamRejectedStatusResolvesBreaker(t *testing.T) {
	sub := newTestSubscriber(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	clock := newBreakerClock()
	breaker := NewBreaker(1, 30*time.Second, 10*time.Second)
	breaker.now = clock.Now
	sub.breaker = breaker

	breaker.Record(false)
	clock.Advance(10 * time.Second)

	connected, err := sub.consumeStream(context.Background())
	assert.False(t, connected)
	require.Error(t, err)
	assert.NotEqual(t, BreakerHalfOpen, breaker.State())
}
