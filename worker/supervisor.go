package worker

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/viant/toolrelay"
)

// ErrorCategory classifies failures for recovery policy.
type ErrorCategory string

const (
	// CategoryTransient failures are retried with backoff.
	CategoryTransient ErrorCategory = "transient"
	// CategoryPermanent failures are surfaced and never retried.
	CategoryPermanent ErrorCategory = "permanent"
	// CategoryDegraded failures switch the worker to reduced-throughput paths.
	CategoryDegraded ErrorCategory = "degraded"
	// CategoryCritical failures stop the worker.
	CategoryCritical ErrorCategory = "critical"
)

// classifyStatus maps an HTTP status to an error category. 429 is transient:
// the poster's pause handling recovers it.
func classifyStatus(status int) ErrorCategory {
	switch {
	case status == 429:
		return CategoryTransient
	case status >= 500:
		return CategoryTransient
	case status >= 400:
		return CategoryPermanent
	default:
		return CategoryTransient
	}
}

// ConnectionState is the subscriber's channel state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDegraded     ConnectionState = "degraded"
	StateReconnecting ConnectionState = "reconnecting"
	StateFailed       ConnectionState = "failed"
)

// ChannelKind names the active delivery channel.
type ChannelKind string

const (
	KindStream  ChannelKind = "stream"
	KindPolling ChannelKind = "polling"
)

// ActorHealth is the per sub-actor health record.
type ActorHealth struct {
	Alive          bool      `json:"alive"`
	LastProgressAt time.Time `json:"lastProgressAt"`
	ErrorCount     int       `json:"errorCount"`
}

// Status is the aggregated worker status surfaced to the embedding layer.
type Status struct {
	State             ConnectionState        `json:"state"`
	Kind              ChannelKind            `json:"kind"`
	QueueDepth        int                    `json:"queueDepth"`
	SuccessRate       float64                `json:"successRate"`
	AvgLatency        time.Duration          `json:"avgLatency"`
	LastError         string                 `json:"lastError,omitempty"`
	LastErrorCategory ErrorCategory          `json:"lastErrorCategory,omitempty"`
	Actors            map[string]ActorHealth `json:"actors"`
}

// Supervisor aggregates error classification, health and observable status
// across the worker's sub-actors. Sub-actors report into it; they never hold
// references to each other.
type Supervisor struct {
	mux    sync.Mutex
	logger zerolog.Logger

	state ConnectionState
	kind  ChannelKind

	actors       map[string]*ActorHealth
	success      int64
	failure      int64
	latencySum   time.Duration
	latencyCount int64

	lastError    string
	lastCategory ErrorCategory

	criticalCount     int
	criticalThreshold int
	fatal             chan struct{}
	fatalOnce         sync.Once

	queueDepth  func() int
	deadLetters []*toolrelay.Response
	subscribers []chan Status
}

func newSupervisor(logger zerolog.Logger, criticalThreshold int) *Supervisor {
	return &Supervisor{
		logger:            logger,
		state:             StateDisconnected,
		kind:              KindStream,
		actors:            map[string]*ActorHealth{},
		criticalThreshold: criticalThreshold,
		fatal:             make(chan struct{}),
		queueDepth:        func() int { return 0 },
	}
}

func (s *Supervisor) setQueueDepth(depth func() int) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.queueDepth = depth
}

// SetConnection updates the connection state and active channel kind.
func (s *Supervisor) SetConnection(state ConnectionState, kind ChannelKind) {
	s.mux.Lock()
	changed := s.state != state || s.kind != kind
	s.state = state
	s.kind = kind
	s.mux.Unlock()
	if changed {
		s.logger.Info().Str("state", string(state)).Str("kind", string(kind)).Msg("connection state changed")
		s.publish()
	}
}

// Progress records liveness for an actor.
func (s *Supervisor) Progress(actor string) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.actor(actor).LastProgressAt = time.Now()
}

// ReportError records a classified failure for an actor. Critical errors
// beyond the configured threshold trip the fatal signal.
func (s *Supervisor) ReportError(actor string, category ErrorCategory, err error) {
	s.mux.Lock()
	health := s.actor(actor)
	health.ErrorCount++
	s.failure++
	s.lastError = err.Error()
	s.lastCategory = category
	critical := false
	if category == CategoryCritical {
		s.criticalCount++
		critical = s.criticalCount >= s.criticalThreshold
	}
	s.mux.Unlock()

	s.logger.Warn().Str("actor", actor).Str("category", string(category)).Err(err).Msg("worker error")
	if critical {
		s.logger.Error().Str("actor", actor).Msg("critical error threshold reached, stopping worker")
		s.fatalOnce.Do(func() { close(s.fatal) })
	}
	s.publish()
}

// ReportSuccess records a successful operation and its latency.
func (s *Supervisor) ReportSuccess(latency time.Duration) {
	s.mux.Lock()
	s.success++
	s.latencySum += latency
	s.latencyCount++
	s.mux.Unlock()
}

// DeadLetter retains a response that could not be delivered.
func (s *Supervisor) DeadLetter(response *toolrelay.Response) {
	s.mux.Lock()
	s.deadLetters = append(s.deadLetters, response)
	s.mux.Unlock()
	s.logger.Error().Str("id", response.Id).Msg("response moved to dead letters")
	s.publish()
}

// DeadLetters returns the undeliverable responses accumulated so far.
func (s *Supervisor) DeadLetters() []*toolrelay.Response {
	s.mux.Lock()
	defer s.mux.Unlock()
	return append([]*toolrelay.Response(nil), s.deadLetters...)
}

// Fatal is closed when the worker must stop and be restarted by an operator.
func (s *Supervisor) Fatal() <-chan struct{} { return s.fatal }

// Subscribe returns a channel receiving status snapshots on every change.
// Slow subscribers miss intermediate snapshots rather than blocking the worker.
func (s *Supervisor) Subscribe() <-chan Status {
	ch := make(chan Status, 8)
	s.mux.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mux.Unlock()
	return ch
}

// Status returns the current aggregated snapshot.
func (s *Supervisor) Status() Status {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.snapshot()
}

func (s *Supervisor) snapshot() Status {
	actors := make(map[string]ActorHealth, len(s.actors))
	for name, health := range s.actors {
		actors[name] = *health
	}
	total := s.success + s.failure
	rate := 1.0
	if total > 0 {
		rate = float64(s.success) / float64(total)
	}
	var avg time.Duration
	if s.latencyCount > 0 {
		avg = s.latencySum / time.Duration(s.latencyCount)
	}
	return Status{
		State:             s.state,
		Kind:              s.kind,
		QueueDepth:        s.queueDepth(),
		SuccessRate:       rate,
		AvgLatency:        avg,
		LastError:         s.lastError,
		LastErrorCategory: s.lastCategory,
		Actors:            actors,
	}
}

func (s *Supervisor) publish() {
	s.mux.Lock()
	snapshot := s.snapshot()
	subscribers := s.subscribers
	s.mux.Unlock()
	for _, ch := range subscribers {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

func (s *Supervisor) actor(name string) *ActorHealth {
	health, ok := s.actors[name]
	if !ok {
		health = &ActorHealth{Alive: true}
		s.actors[name] = health
	}
	return health
}

func (s *Supervisor) markStopped(actor string) {
	s.mux.Lock()
	s.actor(actor).Alive = false
	s.mux.Unlock()
	s.publish()
}
