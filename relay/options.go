package relay

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/viant/toolrelay"
)

// Options holds the relay handler configuration.
type Options struct {
	SessionTTL        time.Duration
	QueueTTL          time.Duration
	HeartbeatInterval time.Duration
	DrainInterval     time.Duration
	StreamDeadline    time.Duration

	RateWindow        time.Duration
	SessionRateLimit  int
	RequestRateLimit  int
	ResponseRateLimit int

	// AllowedOriginDomains restricts CORS to origins whose eTLD+1 is listed.
	// Empty means permissive ("*"), the default for a consumer embedded in a
	// host page of unknown origin.
	AllowedOriginDomains []string

	Logger  zerolog.Logger
	Metrics *Metrics

	now func() time.Time
}

// Option customizes relay Options.
type Option func(*Options)

// WithSessionTTL overrides the default session TTL.
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *Options) { o.SessionTTL = ttl }
}

// WithQueueTTL overrides the default request/response queue TTL.
func WithQueueTTL(ttl time.Duration) Option {
	return func(o *Options) { o.QueueTTL = ttl }
}

// WithHeartbeatInterval overrides the stream heartbeat cadence.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(o *Options) { o.HeartbeatInterval = interval }
}

// WithDrainInterval overrides the stream drain tick.
func WithDrainInterval(interval time.Duration) Option {
	return func(o *Options) { o.DrainInterval = interval }
}

// WithStreamDeadline overrides the absolute stream lifetime.
func WithStreamDeadline(deadline time.Duration) Option {
	return func(o *Options) { o.StreamDeadline = deadline }
}

// WithRateWindow overrides the rate-limit window.
func WithRateWindow(window time.Duration) Option {
	return func(o *Options) { o.RateWindow = window }
}

// WithRateLimits overrides the per-window caps for session creation, request
// enqueue and response enqueue.
func WithRateLimits(sessions, requests, responses int) Option {
	return func(o *Options) {
		o.SessionRateLimit = sessions
		o.RequestRateLimit = requests
		o.ResponseRateLimit = responses
	}
}

// WithAllowedOriginDomains restricts CORS to the given registrable domains.
func WithAllowedOriginDomains(domains ...string) Option {
	return func(o *Options) { o.AllowedOriginDomains = domains }
}

// WithLogger sets the handler logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithMetrics attaches prometheus metrics to the handler.
func WithMetrics(metrics *Metrics) Option {
	return func(o *Options) { o.Metrics = metrics }
}

// WithClock sets a custom time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.now = now }
}

func defaultOptions() Options {
	return Options{
		SessionTTL:        toolrelay.DefaultSessionTTL,
		QueueTTL:          toolrelay.DefaultQueueTTL,
		HeartbeatInterval: toolrelay.DefaultHeartbeatInterval,
		DrainInterval:     toolrelay.DefaultDrainInterval,
		StreamDeadline:    toolrelay.DefaultStreamDeadline,
		RateWindow:        toolrelay.DefaultRateWindow,
		SessionRateLimit:  toolrelay.DefaultSessionRateLimit,
		RequestRateLimit:  toolrelay.DefaultRequestRateLimit,
		ResponseRateLimit: toolrelay.DefaultResponseRateLimit,
		Logger:            zerolog.Nop(),
		now:               time.Now,
	}
}
