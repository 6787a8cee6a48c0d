package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/viant/toolrelay"
)

var (
	// errStreamDeadline marks the server's deliberate 10-minute rotation; the
	// subscriber reconnects immediately without a backoff penalty.
	errStreamDeadline = errors.New("stream deadline reached")

	errStreamUnavailable = errors.New("stream endpoint circuit open")
)

// subscriber maintains the inbound delivery channel: an SSE subscription with
// heartbeat monitoring, falling back to 1 Hz polling after repeated failures.
// It deduplicates by request id so an envelope reaches the executor at most
// once per worker lifetime, whichever channel delivered it.
type subscriber struct {
	config  *Config
	client  *http.Client
	out     chan<- *toolrelay.Request
	seen    *seenSet
	breaker *Breaker
	sup     *Supervisor
	logger  zerolog.Logger
	kind    ChannelKind
}

func newSubscriber(config *Config, out chan<- *toolrelay.Request, sup *Supervisor, logger zerolog.Logger) *subscriber {
	return &subscriber{
		config:  config,
		client:  config.HTTPClient,
		out:     out,
		seen:    newSeenSet(config.DedupCapacity),
		breaker: NewBreaker(defaultBreakerThreshold, defaultBreakerWindow, defaultBreakerCooldown),
		sup:     sup,
		logger:  logger,
		kind:    KindStream,
	}
}

func (s *subscriber) run(ctx context.Context) {
	defer s.sup.markStopped("subscriber")
	reconnect := newBackoff(s.config.Reconnect.Base, s.config.Reconnect.Factor,
		s.config.Reconnect.Cap, s.config.Reconnect.Jitter)
	failures := 0

	for ctx.Err() == nil {
		if s.kind == KindPolling {
			// Poll until the next stream retry is due, then probe the stream once.
			s.pollFor(ctx, s.config.StreamRetryInterval)
			if ctx.Err() != nil {
				return
			}
			connected, _ := s.consumeStream(ctx)
			if connected {
				s.kind = KindStream
				failures = 0
				reconnect.Reset()
			}
			continue
		}

		s.sup.SetConnection(StateConnecting, KindStream)
		connected, err := s.consumeStream(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			failures = 0
			reconnect.Reset()
		}
		if err == nil || errors.Is(err, errStreamDeadline) {
			// Deliberate server-side rotation; reconnect right away.
			continue
		}

		failures++
		s.sup.SetConnection(StateReconnecting, KindStream)
		s.sup.ReportError("subscriber", CategoryTransient, err)
		if failures >= s.config.Reconnect.MaxAttempts {
			s.logger.Warn().Int("failures", failures).Msg("stream channel failed, falling back to polling")
			s.sup.SetConnection(StateFailed, KindStream)
			s.kind = KindPolling
			failures = 0
			reconnect.Reset()
			continue
		}
		_ = sleep(ctx, reconnect.Next())
	}
}

// consumeStream subscribes to /stream and delivers tool-request events until
// the stream ends. The first return value reports whether the connected
// handshake arrived, so callers can reset their failure accounting.
func (s *subscriber) consumeStream(ctx context.Context) (bool, error) {
	if !s.breaker.Allow() {
		return false, errStreamUnavailable
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.streamURL(), nil)
	if err != nil {
		s.breaker.Record(false)
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		s.breaker.Record(false)
		return false, fmt.Errorf("failed to connect to stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		s.breaker.Record(false)
		return false, fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	// The watchdog closes the body when no heartbeat (or any event) arrives
	// within HeartbeatTimeout, unblocking the read below.
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	watchdog := time.AfterFunc(s.config.HeartbeatTimeout, cancel)
	defer watchdog.Stop()
	go func() {
		<-streamCtx.Done()
		_ = resp.Body.Close()
	}()

	connected := false
	// A call admitted while half-open must be resolved: dying before the
	// connected handshake counts as a failure, otherwise the breaker would
	// stay half-open and refuse every future stream attempt.
	defer func() {
		if !connected {
			s.breaker.Record(false)
		}
	}()
	reader := bufio.NewReader(resp.Body)
	for {
		event, err := readEvent(reader)
		if err != nil {
			if ctx.Err() != nil {
				return connected, ctx.Err()
			}
			if streamCtx.Err() != nil {
				s.sup.SetConnection(StateDegraded, KindStream)
				return connected, fmt.Errorf("heartbeat timeout after %s", s.config.HeartbeatTimeout)
			}
			return connected, fmt.Errorf("stream read failed: %w", err)
		}
		watchdog.Reset(s.config.HeartbeatTimeout)

		switch event.name {
		case toolrelay.EventConnected:
			connected = true
			s.breaker.Record(true)
			s.sup.SetConnection(StateConnected, KindStream)
			s.logger.Debug().Msg("stream connected")
		case toolrelay.EventHeartbeat:
			s.sup.Progress("subscriber")
		case toolrelay.EventToolRequest:
			if err := s.deliver(ctx, []byte(event.data)); err != nil {
				return connected, err
			}
		case toolrelay.EventTimeout:
			return connected, errStreamDeadline
		case toolrelay.EventError:
			s.logger.Warn().Str("data", event.data).Msg("stream error event")
		default:
			// Unknown event names are ignored for forward compatibility.
		}
	}
}

// pollFor drains the request endpoint at PollingInterval for roughly the given
// duration, delivering envelopes the dedup set has not seen.
func (s *subscriber) pollFor(ctx context.Context, duration time.Duration) {
	ticker := time.NewTicker(s.config.PollingInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(duration)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-ticker.C:
			if err := s.pollOnce(ctx); err != nil {
				s.sup.ReportError("subscriber", CategoryTransient, err)
			} else {
				s.sup.SetConnection(StateConnected, KindPolling)
				s.sup.Progress("subscriber")
			}
		}
	}
}

func (s *subscriber) pollOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.pollURL(), nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("poll failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("poll returned status %d", resp.StatusCode)
	}
	var payload struct {
		Requests []*toolrelay.Request `json:"requests"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode poll payload: %w", err)
	}
	for _, request := range payload.Requests {
		data, err := json.Marshal(request)
		if err != nil {
			continue
		}
		if err := s.deliver(ctx, data); err != nil {
			return err
		}
	}
	return nil
}

// deliver parses an envelope and hands it to the executor intake unless its id
// was already observed on either channel.
func (s *subscriber) deliver(ctx context.Context, data []byte) error {
	request, err := toolrelay.ParseRequest(data)
	if err != nil {
		s.logger.Warn().Err(err).Msg("dropping malformed envelope")
		return nil
	}
	if request.Id == "" || !s.seen.Add(request.Id) {
		return nil
	}
	select {
	case s.out <- request:
		s.sup.Progress("subscriber")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
