package session

import (
	"sync"
	"time"

	"github.com/adjust/rmq/v3"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/kcz17/benchram/clock"
	"github.com/kcz17/benchram/ingestion"
	"github.com/kcz17/benchram/latencywindow"
	"github.com/kcz17/benchram/reporting"
	"github.com/kcz17/benchram/serving"
)

// ErrAlreadyRunning is returned by Start while a session is running.
var ErrAlreadyRunning = errors.New("session already running")

type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	return [...]string{"idle", "running"}[s]
}

type Options struct {
	// Addr is the ingestion server's listen address.
	Addr                string
	Parameters          ingestion.SessionParameters
	Interval            time.Duration
	ArrayMemoryBudgetMB int64
	MapMemoryBudgetMB   int64
	Sink                reporting.Sink
	Clock               clock.Clock
	// QueueConnection enables ingestion from the Redis queue QueueName in
	// addition to HTTP when set.
	QueueConnection rmq.Connection
	QueueName       string
	// ConnIdleTimeout is how long the ingestion server keeps an idle worker
	// connection open, and so bounds how long Stop waits on one. Zero uses
	// the server default.
	ConnIdleTimeout time.Duration
}

// Session runs one benchmark measurement at a time. Start brings up the
// ingestion server and reporting pipeline; Stop, or a fault in either, tears
// them down, emits the terminal report and completes the Handle.
type Session struct {
	options Options

	// mux guards state transitions. Components of a run are only touched
	// while holding it during start and teardown.
	mux     *sync.Mutex
	state   State
	current *run
}

// run holds the components of one Running period.
type run struct {
	id       string
	server   *serving.IngestionServer
	consumer *serving.QueueConsumer
	pipeline *reporting.Pipeline
	// pipelineStarted is false only while Start is bringing the run up.
	pipelineStarted bool
	handle          *Handle
	// stopped ends the watcher goroutine.
	stopped chan struct{}
}

func New(options Options) *Session {
	if options.Clock == nil {
		options.Clock = clock.NewRealtimeClock()
	}
	return &Session{
		options: options,
		mux:     &sync.Mutex{},
		state:   Idle,
	}
}

func (s *Session) State() State {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.state
}

// Addr is the bound ingestion address of the running session, or "" when
// idle.
func (s *Session) Addr() string {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.server.Addr()
}

// ID is the identifier of the running session, or "" when idle.
func (s *Session) ID() string {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.id
}

// Start returns ErrAlreadyRunning without touching the running session.
// Any failure to bring a component up tears down what was started and is
// returned; the session stays Idle.
func (s *Session) Start() (*Handle, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	if s.state == Running {
		return nil, ErrAlreadyRunning
	}

	window, err := latencywindow.New(latencywindow.Config{
		MinLatency:          s.options.Parameters.MinLatency,
		MaxLatency:          s.options.Parameters.MaxLatency,
		Fractions:           s.options.Parameters.Percentiles,
		ArrayMemoryBudgetMB: s.options.ArrayMemoryBudgetMB,
		MapMemoryBudgetMB:   s.options.MapMemoryBudgetMB,
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not create latency window")
	}

	r := &run{
		id:      uuid.New().String(),
		handle:  newHandle(),
		stopped: make(chan struct{}),
	}
	logger := log.WithField("session", r.id)

	if err := s.options.Sink.Open(&reporting.Session{
		ID:         r.id,
		Parameters: s.options.Parameters,
		Interval:   s.options.Interval,
		WindowKind: window.Kind(),
	}); err != nil {
		return nil, errors.Wrap(err, "could not open report sink")
	}

	queue := ingestion.NewQueue()
	r.pipeline, err = reporting.NewPipeline(&reporting.PipelineOptions{
		Queue:      queue,
		Window:     window,
		Sink:       s.options.Sink,
		Clock:      s.options.Clock,
		Interval:   s.options.Interval,
		Parameters: s.options.Parameters,
	})
	if err != nil {
		return nil, s.abortStart(r, errors.Wrap(err, "could not create reporting pipeline"))
	}

	r.server = serving.NewIngestionServer(&serving.IngestionServerOptions{
		Addr:        s.options.Addr,
		Queue:       queue,
		Parameters:  s.options.Parameters,
		IdleTimeout: s.options.ConnIdleTimeout,
	})
	if err := r.server.Start(); err != nil {
		r.server = nil
		return nil, s.abortStart(r, errors.Wrap(err, "could not start ingestion server"))
	}

	if err := r.pipeline.Start(); err != nil {
		return nil, s.abortStart(r, errors.Wrap(err, "could not start reporting pipeline"))
	}
	r.pipelineStarted = true

	if s.options.QueueConnection != nil {
		consumer, err := r.server.NewQueueConsumer(s.options.QueueConnection, s.options.QueueName)
		if err == nil {
			err = consumer.Start()
		}
		if err != nil {
			return nil, s.abortStart(r, errors.Wrap(err, "could not start queue consumer"))
		}
		r.consumer = consumer
	}

	s.current = r
	s.state = Running
	go s.watch(r)

	logger.WithField("addr", r.server.Addr()).WithField("window", window.Kind()).Info("session started")
	return r.handle, nil
}

// Stop ends the running session with no cause. Stopping an idle session is a
// no-op, so only the first of several calls emits a terminal report.
func (s *Session) Stop() error {
	s.mux.Lock()
	defer s.mux.Unlock()

	if s.state != Running {
		return nil
	}
	return s.teardown(s.current, nil)
}

// stopWithCause stops r if it is still the running session.
func (s *Session) stopWithCause(r *run, cause error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	if s.current != r {
		return
	}
	log.WithError(cause).WithField("session", r.id).Error("stopping session after fault")
	if err := s.teardown(r, cause); err != nil {
		log.WithError(err).WithField("session", r.id).Warn("errors while stopping session")
	}
}

func (s *Session) watch(r *run) {
	select {
	case err := <-r.pipeline.Err():
		s.stopWithCause(r, errors.Wrap(err, "reporting pipeline failed"))
	case err := <-r.server.Err():
		s.stopWithCause(r, errors.Wrap(err, "ingestion server failed"))
	case <-r.stopped:
	}
}

// teardown stops the components of r in dependency order and completes its
// handle with cause, or with the teardown errors when there is no cause.
// It must be called with mux held.
func (s *Session) teardown(r *run, cause error) error {
	var result *multierror.Error

	if r.consumer != nil {
		r.consumer.Stop()
	}
	if r.server != nil {
		if err := r.server.Stop(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := r.pipeline.Stop(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.options.Sink.Close(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "could not close report sink"))
	}

	close(r.stopped)
	s.current = nil
	s.state = Idle

	err := result.ErrorOrNil()
	if cause != nil {
		r.handle.complete(cause)
	} else {
		r.handle.complete(err)
	}
	log.WithField("session", r.id).Info("session stopped")
	return err
}

// abortStart releases whatever Start brought up before failing with cause.
func (s *Session) abortStart(r *run, cause error) error {
	if r.server != nil {
		if err := r.server.Stop(); err != nil {
			log.WithError(err).Warn("could not stop ingestion server after failed start")
		}
	}
	if r.pipelineStarted {
		if err := r.pipeline.Stop(); err != nil {
			log.WithError(err).Warn("could not stop reporting pipeline after failed start")
		}
	}
	if err := s.options.Sink.Close(); err != nil {
		log.WithError(err).Warn("could not close report sink after failed start")
	}
	r.handle.complete(cause)
	return cause
}
