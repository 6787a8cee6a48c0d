package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/viant/toolrelay"
	"golang.org/x/time/rate"
)

const (
	posterBackoffBase   = 500 * time.Millisecond
	posterBackoffFactor = 2
	posterBackoffCap    = 30 * time.Second
	posterJitter        = 0.2
)

// poster delivers response envelopes to the relay, in executor output order.
// Transient failures are retried with backoff up to the configured cap;
// permanent failures go to the supervisor's dead-letter list. A client-side
// token bucket keeps the post rate under the server limit; 429 responses
// additionally grow a pause that is reset on success.
type poster struct {
	config  *Config
	client  *http.Client
	target  string
	in      <-chan *toolrelay.Response
	bucket  *rate.Limiter
	breaker *Breaker
	sup     *Supervisor
	logger  zerolog.Logger
	pause   time.Duration
}

func newPoster(config *Config, in <-chan *toolrelay.Response, sup *Supervisor, logger zerolog.Logger) *poster {
	capacity := config.Poster.RateCapPerMin
	return &poster{
		config:  config,
		client:  config.HTTPClient,
		target:  config.responseURL(),
		in:      in,
		bucket:  rate.NewLimiter(rate.Limit(float64(capacity)/60.0), config.Poster.BatchSize),
		breaker: NewBreaker(defaultBreakerThreshold, defaultBreakerWindow, defaultBreakerCooldown),
		sup:     sup,
		logger:  logger,
	}
}

func (p *poster) run(ctx context.Context) {
	defer p.sup.markStopped("poster")
	for {
		select {
		case <-ctx.Done():
			return
		case response := <-p.in:
			// Micro-batching window: gather up to BatchSize items, then post
			// them one by one preserving order (the relay accepts single items).
			batch := p.collect(ctx, response)
			for _, item := range batch {
				if ctx.Err() != nil {
					return
				}
				p.post(ctx, item)
			}
		}
	}
}

func (p *poster) collect(ctx context.Context, first *toolrelay.Response) []*toolrelay.Response {
	batch := []*toolrelay.Response{first}
	if p.config.Poster.BatchSize <= 1 {
		return batch
	}
	window := time.NewTimer(p.config.Poster.BatchWindow)
	defer window.Stop()
	for len(batch) < p.config.Poster.BatchSize {
		select {
		case <-ctx.Done():
			return batch
		case <-window.C:
			return batch
		case response := <-p.in:
			batch = append(batch, response)
		}
	}
	return batch
}

func (p *poster) post(ctx context.Context, response *toolrelay.Response) {
	retry := newBackoff(posterBackoffBase, posterBackoffFactor, posterBackoffCap, posterJitter)
	for attempt := 1; attempt <= p.config.Poster.MaxAttempts; attempt++ {
		if err := p.bucket.Wait(ctx); err != nil {
			return
		}
		if p.pause > 0 {
			if err := sleep(ctx, p.pause); err != nil {
				return
			}
		}
		if !p.breaker.Allow() {
			p.sup.ReportError("poster", CategoryTransient, fmt.Errorf("response endpoint circuit open"))
			if err := sleep(ctx, retry.Next()); err != nil {
				return
			}
			continue
		}

		started := time.Now()
		status, retryAfter, err := p.doPost(ctx, response)
		switch {
		case err != nil:
			p.breaker.Record(false)
			p.sup.ReportError("poster", CategoryTransient, err)
		case status == http.StatusAccepted || status == http.StatusOK:
			p.breaker.Record(true)
			p.sup.ReportSuccess(time.Since(started))
			p.sup.Progress("poster")
			p.pause = 0
			return
		case status == http.StatusTooManyRequests:
			p.breaker.Record(true) // the endpoint is healthy, just throttling
			p.growPause(retryAfter)
			p.sup.ReportError("poster", CategoryTransient, fmt.Errorf("rate limited by relay"))
		case status >= 500:
			p.breaker.Record(false)
			p.sup.ReportError("poster", CategoryTransient, fmt.Errorf("relay returned status %d", status))
		default:
			// Permanent: 4xx other than 429 is not retried.
			p.breaker.Record(true)
			p.sup.ReportError("poster", classifyStatus(status), fmt.Errorf("relay rejected response: status %d", status))
			p.sup.DeadLetter(response)
			return
		}

		if err := sleep(ctx, retry.Next()); err != nil {
			return
		}
	}
	p.sup.ReportError("poster", CategoryDegraded,
		fmt.Errorf("gave up posting response %s after %d attempts", response.Id, p.config.Poster.MaxAttempts))
	p.sup.DeadLetter(response)
}

func (p *poster) doPost(ctx context.Context, response *toolrelay.Response) (int, time.Duration, error) {
	payload, err := json.Marshal(response)
	if err != nil {
		return 0, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.target, bytes.NewReader(payload))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to post response: %w", err)
	}
	defer resp.Body.Close()
	var retryAfter time.Duration
	if value := resp.Header.Get("Retry-After"); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			retryAfter = time.Duration(seconds) * time.Second
		}
	}
	return resp.StatusCode, retryAfter, nil
}

// growPause doubles the 429 pause up to the backoff cap, honoring Retry-After
// when the server provided one.
func (p *poster) growPause(retryAfter time.Duration) {
	if p.pause == 0 {
		p.pause = posterBackoffBase
	} else {
		p.pause *= 2
	}
	if p.pause > posterBackoffCap {
		p.pause = posterBackoffCap
	}
	if retryAfter > p.pause {
		p.pause = retryAfter
	}
}
