// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package worker provides a bounded pool for running blocking work off the
// event loop goroutine.
package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/z5labs/webserv/internal/try"
	"github.com/z5labs/webserv/pkg/noop"
	"github.com/z5labs/webserv/pkg/slogfield"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/errgroup"
)

// Task is a unit of work. A returned error is logged and otherwise ignored.
type Task func(context.Context) error

type options struct {
	logHandler         slog.Handler
	maxConcurrentTasks int
}

// Option configures a Pool.
type Option func(*options)

// LogHandler configures the underlying slog.Handler.
func LogHandler(h slog.Handler) Option {
	return func(o *options) {
		o.logHandler = h
	}
}

// MaxConcurrentTasks bounds the number of tasks running at once. Zero
// leaves the pool unbounded.
func MaxConcurrentTasks(n uint) Option {
	return func(o *options) {
		if n == 0 {
			return
		}
		o.maxConcurrentTasks = int(n)
	}
}

type item struct {
	task Task

	// the submitting goroutine's trace context has to be carried over to
	// the goroutine running the task
	carrier propagation.MapCarrier
}

// Pool runs submitted tasks on at most MaxConcurrentTasks goroutines.
// Tasks only run while Run is active.
type Pool struct {
	log        *slog.Logger
	propagator propagation.TextMapPropagator
	limit      int

	mu      sync.Mutex
	pending []item
	notify  chan struct{}
}

// New returns a Pool configured by opts.
func New(opts ...Option) *Pool {
	o := &options{
		logHandler:         noop.LogHandler{},
		maxConcurrentTasks: -1,
	}
	for _, opt := range opts {
		opt(o)
	}

	return &Pool{
		log: slog.New(o.logHandler),
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
		limit:  o.maxConcurrentTasks,
		notify: make(chan struct{}, 1),
	}
}

// Submit queues t and never blocks.
func (p *Pool) Submit(ctx context.Context, t Task) {
	it := item{
		task:    t,
		carrier: make(propagation.MapCarrier),
	}
	p.propagator.Inject(ctx, it.carrier)

	p.mu.Lock()
	p.pending = append(p.pending, it)
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Run dispatches queued tasks until ctx is cancelled and then waits for
// the running ones to return. Tasks still queued at that point are dropped.
func (p *Pool) Run(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(p.limit)

	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		case <-p.notify:
		}

		for _, it := range p.drain() {
			propCtx := p.propagator.Extract(ctx, it.carrier)
			g.Go(p.runTask(propCtx, it.task))
		}
	}
}

func (p *Pool) drain() []item {
	p.mu.Lock()
	defer p.mu.Unlock()

	items := p.pending
	p.pending = nil
	return items
}

func (p *Pool) runTask(ctx context.Context, t Task) func() error {
	return func() error {
		spanCtx, span := otel.Tracer("github.com/z5labs/webserv/internal/worker").Start(ctx, "Pool.runTask")
		defer span.End()

		err := run(spanCtx, t)
		if err != nil {
			span.RecordError(err)
			p.log.ErrorContext(spanCtx, "task failed", slogfield.Error(err))
		}
		return nil
	}
}

func run(ctx context.Context, t Task) (err error) {
	defer try.Recover(&err)

	return t(ctx)
}
