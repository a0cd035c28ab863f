package serving

import (
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"time"

	routing "github.com/jackwhelpton/fasthttp-routing/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/kcz17/benchram/ingestion"
)

const (
	transportHTTP = "http"

	defaultIdleTimeout = 5 * time.Second
	defaultReadTimeout = 30 * time.Second
)

type IngestionServerOptions struct {
	// Addr is the host:port to listen on. Port 0 picks an ephemeral port,
	// which Addr reports once started.
	Addr       string
	Queue      *ingestion.Queue
	Parameters ingestion.SessionParameters
	// MaxConnsPerIP limits concurrent connections from one worker host; zero
	// means unlimited.
	MaxConnsPerIP int
	// IdleTimeout closes keep-alive connections left idle by workers, which
	// also bounds how long Stop waits for them. Defaults to 5s.
	IdleTimeout time.Duration
	// ReadTimeout bounds reading one request. Defaults to 30s.
	ReadTimeout time.Duration
}

// IngestionServer accepts sample batches from remote workers and pushes them
// onto the ingestion queue. Submissions are acknowledged once queued; the
// server never waits for the reporting pipeline to merge them.
type IngestionServer struct {
	addr          string
	queue         *ingestion.Queue
	parameters    ingestion.SessionParameters
	maxConnsPerIP int
	idleTimeout   time.Duration
	readTimeout   time.Duration
	metrics       *ingestionMetrics

	server   *fasthttp.Server
	listener net.Listener
	errs     chan error
	// isStarted is checked to ensure each server is only ever started once.
	isStarted bool
	// stopping is set once Stop begins, after which Serve returning is
	// expected rather than a fault.
	stopping int32
	stopOnce *sync.Once
	stopErr  error
}

type submitAck struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

func NewIngestionServer(options *IngestionServerOptions) *IngestionServer {
	idleTimeout := options.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	readTimeout := options.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}

	return &IngestionServer{
		addr:          options.Addr,
		queue:         options.Queue,
		parameters:    options.Parameters,
		maxConnsPerIP: options.MaxConnsPerIP,
		idleTimeout:   idleTimeout,
		readTimeout:   readTimeout,
		metrics:       newIngestionMetrics(options.Queue),
		errs:          make(chan error, 1),
		stopOnce:      &sync.Once{},
	}
}

// Start binds the listener before returning, so a port already in use is
// reported to the caller. Requests are then served on a new goroutine.
func (s *IngestionServer) Start() error {
	if s.isStarted {
		return errors.New("IngestionServer.Start() failed: server already started")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "could not listen on %s", s.addr)
	}
	s.listener = listener

	router := routing.New()
	router.Post("/submit", s.submitHandler())
	router.Get("/parameters", s.parametersHandler())
	router.Get("/metrics", s.metricsHandler())
	router.Get("/healthz", s.healthHandler())

	s.server = &fasthttp.Server{
		Name:            "benchram",
		Handler:         router.HandleRequest,
		MaxConnsPerIP:   s.maxConnsPerIP,
		IdleTimeout:     s.idleTimeout,
		ReadTimeout:     s.readTimeout,
		CloseOnShutdown: true,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && atomic.LoadInt32(&s.stopping) == 0 {
			select {
			case s.errs <- errors.Wrap(err, "ingestion server stopped serving"):
			default:
			}
		}
	}()

	log.WithField("addr", s.Addr()).Info("ingestion server listening")
	s.isStarted = true
	return nil
}

// Stop rejects further submissions and shuts the server down. It is safe to
// call more than once.
func (s *IngestionServer) Stop() error {
	if !s.isStarted {
		return errors.New("IngestionServer.Stop() failed: server not started")
	}

	s.stopOnce.Do(func() {
		atomic.StoreInt32(&s.stopping, 1)
		s.queue.Close()
		if err := s.server.Shutdown(); err != nil {
			s.stopErr = errors.Wrap(err, "could not shut down ingestion server")
		}
		// Shutdown does nothing if Serve has not registered the listener yet,
		// so release the port here too. Closing twice only returns an error.
		_ = s.listener.Close()
	})
	return s.stopErr
}

// Addr is the address the server is bound to, or the configured address
// before Start.
func (s *IngestionServer) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Err delivers at most one error which stopped the server from serving.
func (s *IngestionServer) Err() <-chan error {
	return s.errs
}

func (s *IngestionServer) submitHandler() routing.Handler {
	return func(c *routing.Context) error {
		defer s.observeSubmit(time.Now())

		var batch ingestion.SampleBatch
		if err := json.Unmarshal(c.PostBody(), &batch); err != nil {
			s.metrics.rejected(transportHTTP, "decode")
			return writeAck(c, fasthttp.StatusBadRequest, errors.Wrap(err, "could not decode sample batch"))
		}
		if err := batch.Validate(); err != nil {
			s.metrics.rejected(transportHTTP, "invalid")
			return writeAck(c, fasthttp.StatusBadRequest, err)
		}
		if err := s.queue.Push(&batch); err != nil {
			s.metrics.rejected(transportHTTP, "closed")
			return writeAck(c, fasthttp.StatusServiceUnavailable, err)
		}

		s.metrics.accepted(transportHTTP, &batch)
		return writeAck(c, fasthttp.StatusAccepted, nil)
	}
}

func (s *IngestionServer) parametersHandler() routing.Handler {
	return func(c *routing.Context) error {
		b, err := json.Marshal(&s.parameters)
		if err != nil {
			return errors.Wrap(err, "could not marshal session parameters")
		}
		c.SetContentType("application/json")
		return c.Write(b)
	}
}

func (s *IngestionServer) metricsHandler() routing.Handler {
	handler := s.metrics.handler()
	return func(c *routing.Context) error {
		handler(c.RequestCtx)
		return nil
	}
}

func (s *IngestionServer) healthHandler() routing.Handler {
	return func(c *routing.Context) error {
		return c.Write("ok\n")
	}
}

func (s *IngestionServer) observeSubmit(start time.Time) {
	s.metrics.submitLatencySec.Observe(time.Since(start).Seconds())
}

func writeAck(c *routing.Context, status int, err error) error {
	ack := submitAck{Accepted: err == nil}
	if err != nil {
		ack.Error = err.Error()
	}
	b, marshalErr := json.Marshal(&ack)
	if marshalErr != nil {
		return errors.Wrap(marshalErr, "could not marshal submit ack")
	}
	c.SetStatusCode(status)
	c.SetContentType("application/json")
	return c.Write(b)
}
