// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build linux

package webserv

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/z5labs/webserv/config"
	"github.com/z5labs/webserv/internal/cgi"
	"github.com/z5labs/webserv/internal/errpage"
	"github.com/z5labs/webserv/internal/eventloop"
	"github.com/z5labs/webserv/internal/fixedpool"
	"github.com/z5labs/webserv/internal/otelconfig"
	"github.com/z5labs/webserv/internal/router"
	"github.com/z5labs/webserv/internal/vserver"
	"github.com/z5labs/webserv/internal/worker"
	"github.com/z5labs/webserv/pkg/lifecycle"
	"github.com/z5labs/webserv/pkg/slogfield"

	"go.opentelemetry.io/otel"
)

// App is a fully wired server, ready to run.
type App struct {
	log    *slog.Logger
	server *eventloop.Server
	pool   *worker.Pool
}

// Run reads srcs into a Config, builds an App from it and runs the App
// until ctx is canceled. Logs are written to w. Post-run hooks registered
// while building always run, even if building or running failed.
func Run(ctx context.Context, w io.Writer, srcs ...config.Source) (err error) {
	m, err := config.Read(srcs...)
	if err != nil {
		return ConfigReadError{Cause: err}
	}

	var cfg Config
	err = m.Unmarshal(&cfg)
	if err != nil {
		return ConfigUnmarshalError{Cause: err}
	}

	lc := &lifecycle.Context{}
	ctx = lifecycle.NewContext(ctx, lc)
	defer func() {
		// ctx is most likely canceled by now but hooks still need to flush
		herr := lc.PostRun(context.WithoutCancel(ctx))
		err = errors.Join(err, herr)
	}()

	app, err := Build(ctx, cfg, w)
	if err != nil {
		return AppBuildError{Cause: err}
	}

	err = app.Run(ctx)
	if err != nil {
		return AppRunError{Cause: err}
	}
	return nil
}

// Build wires every component described by cfg. If ctx carries a
// lifecycle.Context, the tracer provider shutdown is registered on it.
func Build(ctx context.Context, cfg Config, w io.Writer) (*App, error) {
	logHandler, err := NewLogHandler(cfg, w)
	if err != nil {
		return nil, err
	}
	log := slog.New(logHandler)

	err = initTracing(ctx, cfg.Otel)
	if err != nil {
		return nil, err
	}

	table, err := vserver.NewTable(cfg.Servers...)
	if err != nil {
		return nil, err
	}

	pages := errpage.NewLoader(cfg.ErrorsRoot, errpage.LogHandler(logHandler))

	bridge := cgi.NewBridge(
		cgi.Dir(cfg.CGI.Dir),
		cgi.Timeout(cfg.CGI.Timeout),
		cgi.TripAfter(cfg.CGI.Breaker.TripAfter),
		cgi.OpenStateTimeout(cfg.CGI.Breaker.OpenTimeout),
		cgi.Deny(cfg.UploadsDir, cfg.DeletableRoot),
		cgi.LogHandler(logHandler),
	)

	r := router.New(
		table,
		router.UploadsDir(cfg.UploadsDir),
		router.DeletableRoot(cfg.DeletableRoot),
		router.FormLog(cfg.FormLog),
		router.ErrorPages(pages),
		router.CGI(cfg.CGI.Handlers, bridge),
		router.LogHandler(logHandler),
	)

	loopOpts := []eventloop.Option{
		eventloop.LogHandler(logHandler),
		eventloop.ErrorPages(pages),
		eventloop.MeterProvider(otel.GetMeterProvider()),
	}
	if cfg.Limits.ReadChunk > 0 {
		loopOpts = append(loopOpts, eventloop.ReadChunk(cfg.Limits.ReadChunk))
	}
	if cfg.Limits.MaxRequestBytes > 0 {
		loopOpts = append(loopOpts, eventloop.MaxRequestBytes(cfg.Limits.MaxRequestBytes))
	}

	app := &App{log: log}
	if cfg.Workers > 0 {
		app.pool = worker.New(
			worker.MaxConcurrentTasks(cfg.Workers),
			worker.LogHandler(logHandler),
		)
		loopOpts = append(loopOpts, eventloop.Workers(app.pool))
	}

	app.server = eventloop.New(r, table.Ports(), loopOpts...)
	return app, nil
}

func initTracing(ctx context.Context, cfg otelconfig.Config) error {
	initer, err := otelconfig.FromConfig(cfg)
	if err != nil {
		return err
	}

	tp, err := initer.Init(ctx)
	if err != nil {
		return err
	}
	if tp == otel.GetTracerProvider() {
		return nil
	}
	otel.SetTracerProvider(tp)

	lc, ok := lifecycle.FromContext(ctx)
	if !ok {
		return nil
	}
	if s, ok := tp.(interface{ Shutdown(context.Context) error }); ok {
		lc.OnPostRun("tracer provider", lifecycle.HookFunc(s.Shutdown))
	}
	return nil
}

// Listen binds every configured port. Run calls it when it has not been
// called yet.
func (a *App) Listen() error {
	return a.server.Listen()
}

// BoundPorts reports the ports being listened on.
func (a *App) BoundPorts() []int {
	return a.server.BoundPorts()
}

// Run serves connections until ctx is canceled or the event loop fails.
func (a *App) Run(ctx context.Context) error {
	tasks := []fixedpool.Task{a.server.Run}
	if a.pool != nil {
		tasks = append(tasks, a.pool.Run)
	}

	err := a.server.Listen()
	if err != nil {
		return err
	}

	a.log.InfoContext(ctx, "serving", slogfield.Ints("ports", a.server.BoundPorts()))
	err = fixedpool.Wait(ctx, tasks...)
	if err != nil {
		a.log.ErrorContext(ctx, "server stopped", slogfield.Error(err))
		return err
	}
	a.log.InfoContext(ctx, "server stopped")
	return nil
}
