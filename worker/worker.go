package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/viant/toolrelay"
)

// intakeCapacity bounds the in-memory executor and poster queues. The relay's
// rate limits keep depth far below this in practice.
const intakeCapacity = 1024

// Worker is the consumer end of a relay session: subscriber, executor and
// poster tasks coordinated by a supervisor. Actors communicate over channels
// only; none holds a reference to another's state.
type Worker struct {
	config Config
	logger zerolog.Logger

	requests  chan *toolrelay.Request
	responses chan *toolrelay.Response

	subscriber *subscriber
	executor   *executor
	poster     *poster
	sup        *Supervisor

	mux     sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
	started bool
}

// New creates a Worker for the given session and tool registry.
func New(config Config, registry *Registry) (*Worker, error) {
	if registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if err := config.applyDefaults(); err != nil {
		return nil, err
	}
	logger := config.Logger
	if config.Debug {
		logger = logger.Level(zerolog.DebugLevel)
	}
	logger = logger.With().Str("session", config.SessionCode).Logger()

	requests := make(chan *toolrelay.Request, intakeCapacity)
	responses := make(chan *toolrelay.Response, intakeCapacity)
	sup := newSupervisor(logger, config.CriticalThreshold)
	sup.setQueueDepth(func() int { return len(requests) + len(responses) })

	return &Worker{
		config:     config,
		logger:     logger,
		requests:   requests,
		responses:  responses,
		sup:        sup,
		subscriber: newSubscriber(&config, requests, sup, logger.With().Str("actor", "subscriber").Logger()),
		executor:   newExecutor(&config, registry, requests, responses, sup, logger.With().Str("actor", "executor").Logger()),
		poster:     newPoster(&config, responses, sup, logger.With().Str("actor", "poster").Logger()),
	}, nil
}

// Start launches the worker tasks. It returns immediately; delivery begins as
// soon as the subscriber connects.
func (w *Worker) Start(ctx context.Context) error {
	w.mux.Lock()
	defer w.mux.Unlock()
	if w.started {
		return fmt.Errorf("worker already started")
	}
	w.started = true

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.stopped = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		w.subscriber.run(runCtx)
	}()
	go func() {
		defer wg.Done()
		w.executor.run(runCtx)
	}()
	go func() {
		defer wg.Done()
		w.poster.run(runCtx)
	}()

	// Fatal conditions stop the whole worker; an operator restart is required.
	go func() {
		select {
		case <-w.sup.Fatal():
			cancel()
		case <-runCtx.Done():
		}
	}()
	go func() {
		wg.Wait()
		w.sup.SetConnection(StateDisconnected, w.sup.Status().Kind)
		close(w.stopped)
	}()
	return nil
}

// Stop cancels all tasks and waits up to the configured grace period for them
// to exit. Pending queue entries are discarded; the relay TTLs them out.
func (w *Worker) Stop() {
	w.mux.Lock()
	cancel, stopped := w.cancel, w.stopped
	w.mux.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(w.config.StopGracePeriod):
		w.logger.Warn().Msg("worker tasks did not stop within grace period")
	}
}

// Done is closed once all worker tasks have exited.
func (w *Worker) Done() <-chan struct{} {
	w.mux.Lock()
	defer w.mux.Unlock()
	return w.stopped
}

// Status returns the supervisor's aggregated snapshot.
func (w *Worker) Status() Status {
	return w.sup.Status()
}

// Subscribe returns a channel of status snapshots for an embedding UI layer.
func (w *Worker) Subscribe() <-chan Status {
	return w.sup.Subscribe()
}

// DeadLetters returns responses that exhausted delivery attempts.
func (w *Worker) DeadLetters() []*toolrelay.Response {
	return w.sup.DeadLetters()
}
