// Package worker implements the consumer end of the relay channel: a stream
// subscriber with polling fallback, a sequential tool executor, a response
// poster and a supervising error/recovery layer.
package worker

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/viant/afs/url"
	"github.com/viant/toolrelay"
)

const (
	defaultPollingInterval     = time.Second
	defaultHeartbeatTimeout    = 2 * toolrelay.DefaultHeartbeatInterval
	defaultStreamRetryInterval = 30 * time.Second
	defaultInvocationTimeout   = 30 * time.Second
	defaultStopGracePeriod     = 2 * time.Second
	defaultDedupCapacity       = 512
	defaultCriticalThreshold   = 3

	defaultBreakerThreshold = 5
	defaultBreakerWindow    = 30 * time.Second
	defaultBreakerCooldown  = 15 * time.Second
)

// ReconnectConfig shapes the subscriber's stream reconnect backoff.
type ReconnectConfig struct {
	Base        time.Duration
	Factor      float64
	Cap         time.Duration
	MaxAttempts int     // consecutive failures before falling back to polling
	Jitter      float64 // additive, e.g. 0.2 for +/-20%
}

// PosterConfig shapes response delivery.
type PosterConfig struct {
	MaxAttempts   int
	RateCapPerMin int // client-side token bucket, matches the server limit
	BatchSize     int
	BatchWindow   time.Duration
}

// Config configures a Worker. BaseURL and SessionCode are required; zero
// values elsewhere take documented defaults.
type Config struct {
	BaseURL     string
	SessionCode string

	PollingInterval     time.Duration
	HeartbeatTimeout    time.Duration
	StreamRetryInterval time.Duration
	Reconnect           ReconnectConfig
	InvocationTimeout   time.Duration
	Poster              PosterConfig
	StopGracePeriod     time.Duration
	DedupCapacity       int

	// CriticalThreshold is the number of critical errors tolerated before the
	// worker stops and requires an operator restart.
	CriticalThreshold int

	Debug      bool
	Logger     zerolog.Logger
	HTTPClient *http.Client

	baseURL string // normalized scheme://host
}

func (c *Config) applyDefaults() error {
	if c.BaseURL == "" {
		return fmt.Errorf("relay base URL is required")
	}
	if !toolrelay.IsValidCode(c.SessionCode) {
		return fmt.Errorf("invalid session code: %q", c.SessionCode)
	}
	schema := url.Scheme(c.BaseURL, "http")
	host := url.Host(c.BaseURL)
	if host == "" {
		return fmt.Errorf("relay base URL has no host: %q", c.BaseURL)
	}
	c.baseURL = fmt.Sprintf("%s://%s", schema, host)

	if c.PollingInterval <= 0 {
		c.PollingInterval = defaultPollingInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.StreamRetryInterval <= 0 {
		c.StreamRetryInterval = defaultStreamRetryInterval
	}
	if c.Reconnect.Base <= 0 {
		c.Reconnect.Base = 500 * time.Millisecond
	}
	if c.Reconnect.Factor <= 0 {
		c.Reconnect.Factor = 2
	}
	if c.Reconnect.Cap <= 0 {
		c.Reconnect.Cap = 30 * time.Second
	}
	if c.Reconnect.MaxAttempts <= 0 {
		c.Reconnect.MaxAttempts = 5
	}
	if c.Reconnect.Jitter <= 0 {
		c.Reconnect.Jitter = 0.2
	}
	if c.InvocationTimeout <= 0 {
		c.InvocationTimeout = defaultInvocationTimeout
	}
	if c.Poster.MaxAttempts <= 0 {
		c.Poster.MaxAttempts = 6
	}
	if c.Poster.RateCapPerMin <= 0 {
		c.Poster.RateCapPerMin = toolrelay.DefaultResponseRateLimit
	}
	if c.Poster.BatchSize <= 0 {
		c.Poster.BatchSize = 10
	}
	if c.Poster.BatchWindow <= 0 {
		c.Poster.BatchWindow = 50 * time.Millisecond
	}
	if c.StopGracePeriod <= 0 {
		c.StopGracePeriod = defaultStopGracePeriod
	}
	if c.DedupCapacity <= 0 {
		c.DedupCapacity = defaultDedupCapacity
	}
	if c.CriticalThreshold <= 0 {
		c.CriticalThreshold = defaultCriticalThreshold
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	return nil
}

func (c *Config) streamURL() string {
	return c.baseURL + "/stream?code=" + c.SessionCode
}

func (c *Config) pollURL() string {
	return c.baseURL + "/request?code=" + c.SessionCode
}

func (c *Config) responseURL() string {
	return c.baseURL + "/response"
}
