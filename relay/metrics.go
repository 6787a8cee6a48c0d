package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects relay-side counters and gauges.
type Metrics struct {
	SessionsCreated prometheus.Counter
	RequestsQueued  prometheus.Counter
	ResponsesStored prometheus.Counter
	EventsDelivered prometheus.Counter
	ActiveStreams   prometheus.Gauge
	RateLimited     *prometheus.CounterVec
}

// NewMetrics registers the relay collectors with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "toolrelay_sessions_created_total",
			Help: "Sessions created",
		}),
		RequestsQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "toolrelay_requests_queued_total",
			Help: "Request envelopes accepted",
		}),
		ResponsesStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "toolrelay_responses_stored_total",
			Help: "Response envelopes accepted",
		}),
		EventsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "toolrelay_stream_events_delivered_total",
			Help: "tool-request events delivered over streams",
		}),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "toolrelay_active_streams",
			Help: "Open stream connections",
		}),
		RateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "toolrelay_rate_limited_total",
			Help: "Requests rejected by rate limiting",
		}, []string{"limit"}),
	}
}
