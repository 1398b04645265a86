// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build linux

// Package eventloop multiplexes every listening and client socket over a
// single epoll instance.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/z5labs/webserv/internal/errpage"
	"github.com/z5labs/webserv/internal/httpmsg"
	"github.com/z5labs/webserv/internal/worker"
	"github.com/z5labs/webserv/pkg/noop"
	"github.com/z5labs/webserv/pkg/slogfield"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
)

// Defaults applied by New.
const (
	DefaultReadChunk       = 1024
	DefaultMaxRequestBytes = 1 << 20
	DefaultBacklog         = 100
	DefaultAcceptBackoff   = 100 * time.Millisecond
)

// ErrNoListeners is returned when not a single configured port could be bound.
var ErrNoListeners = errors.New("eventloop: no port could be bound")

// ListenError is fatal. Every socket has been closed by the time it is returned.
type ListenError struct {
	Port  int
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ListenError) Error() string {
	return fmt.Sprintf("eventloop: failed to listen on port %d: %s", e.Port, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ListenError) Unwrap() error {
	return e.Cause
}

// Handler produces the response for a request. It may be called from
// several goroutines at once when a worker pool is configured.
type Handler interface {
	Handle(context.Context, httpmsg.Request) httpmsg.Response
}

// HandlerFunc is a func variant of the [Handler] interface.
type HandlerFunc func(context.Context, httpmsg.Request) httpmsg.Response

// Handle implements the [Handler] interface.
func (f HandlerFunc) Handle(ctx context.Context, req httpmsg.Request) httpmsg.Response {
	return f(ctx, req)
}

// Submitter runs tasks off the loop goroutine.
type Submitter interface {
	Submit(context.Context, worker.Task)
}

type options struct {
	logHandler      slog.Handler
	readChunk       int
	maxRequestBytes int
	backlog         int
	acceptBackoff   time.Duration
	submitter       Submitter
	pages           *errpage.Loader
	meterProvider   metric.MeterProvider
}

// Option configures a Server.
type Option func(*options)

// LogHandler configures the underlying slog.Handler.
func LogHandler(h slog.Handler) Option {
	return func(o *options) {
		o.logHandler = h
	}
}

// ReadChunk sets how many bytes are read per readiness event.
func ReadChunk(n int) Option {
	return func(o *options) {
		if n <= 0 {
			return
		}
		o.readChunk = n
	}
}

// MaxRequestBytes bounds the size of a single buffered request. Larger
// requests are answered with 413.
func MaxRequestBytes(n int) Option {
	return func(o *options) {
		if n <= 0 {
			return
		}
		o.maxRequestBytes = n
	}
}

// Backlog sets the listen backlog of every listening socket.
func Backlog(n int) Option {
	return func(o *options) {
		if n <= 0 {
			return
		}
		o.backlog = n
	}
}

// AcceptBackoff sets how long a listener stays unwatched after accepting
// on it fails with anything other than EAGAIN, e.g. EMFILE.
func AcceptBackoff(d time.Duration) Option {
	return func(o *options) {
		if d <= 0 {
			return
		}
		o.acceptBackoff = d
	}
}

// Workers hands request handling to s instead of running it on the loop
// goroutine.
func Workers(s Submitter) Option {
	return func(o *options) {
		o.submitter = s
	}
}

// ErrorPages sets the loader for bodies of requests rejected by the loop.
func ErrorPages(l *errpage.Loader) Option {
	return func(o *options) {
		o.pages = l
	}
}

// MeterProvider overrides the global meter provider.
func MeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// Server owns the listening sockets for a set of ports and every
// connection accepted on them. Only the goroutine calling Run touches
// connection state.
type Server struct {
	log       *slog.Logger
	handler   Handler
	ports     []int
	chunk     int
	maxBytes  int
	backlog   int
	backoff   time.Duration
	submitter Submitter
	pages     *errpage.Loader

	requests    metric.Int64Counter
	connections metric.Int64UpDownCounter

	listening bool
	epfd      int
	evfd      int
	listeners map[int]int
	paused    map[int]time.Time
	bound     []int
	conns     map[int]*conn
	nextID    uint64
	readBuf   []byte

	// guards completions, closed and writes to evfd
	mu          sync.Mutex
	completions []completion
	closed      bool
}

// New returns a Server which will listen on ports once Listen or Run is called.
func New(h Handler, ports []int, opts ...Option) *Server {
	o := &options{
		logHandler:      noop.LogHandler{},
		readChunk:       DefaultReadChunk,
		maxRequestBytes: DefaultMaxRequestBytes,
		backlog:         DefaultBacklog,
		acceptBackoff:   DefaultAcceptBackoff,
		meterProvider:   otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(o)
	}

	s := &Server{
		log:       slog.New(o.logHandler),
		handler:   h,
		ports:     append([]int(nil), ports...),
		chunk:     o.readChunk,
		maxBytes:  o.maxRequestBytes,
		backlog:   o.backlog,
		backoff:   o.acceptBackoff,
		submitter: o.submitter,
		pages:     o.pages,
		epfd:      -1,
		evfd:      -1,
		listeners: make(map[int]int),
		paused:    make(map[int]time.Time),
		conns:     make(map[int]*conn),
		readBuf:   make([]byte, o.readChunk),
	}
	s.initMetrics(o.meterProvider)
	return s
}

func (s *Server) initMetrics(mp metric.MeterProvider) {
	meter := mp.Meter("github.com/z5labs/webserv/internal/eventloop")
	fallback := metricnoop.NewMeterProvider().Meter("")

	var err error
	s.requests, err = meter.Int64Counter(
		"webserv.requests",
		metric.WithDescription("Number of responses written, by method and status."),
	)
	if err != nil {
		s.log.Warn("failed to create request counter", slogfield.Error(err))
		s.requests, _ = fallback.Int64Counter("webserv.requests")
	}

	s.connections, err = meter.Int64UpDownCounter(
		"webserv.connections.open",
		metric.WithDescription("Number of open client connections."),
	)
	if err != nil {
		s.log.Warn("failed to create connection counter", slogfield.Error(err))
		s.connections, _ = fallback.Int64UpDownCounter("webserv.connections.open")
	}
}

// BoundPorts returns the ports actually being listened on, in configuration
// order. A configured port of 0 is reported as the port the kernel chose.
func (s *Server) BoundPorts() []int {
	return append([]int(nil), s.bound...)
}

// Run listens, when Listen has not been called yet, and serves until ctx
// is cancelled. Cancellation closes every socket without draining.
func (s *Server) Run(ctx context.Context) error {
	if !s.listening {
		err := s.Listen()
		if err != nil {
			return err
		}
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.wake()
		case <-stop:
		}
	}()

	err := s.loop(ctx)
	s.closeAll()
	return err
}
