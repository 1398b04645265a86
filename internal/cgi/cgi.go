// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package cgi runs CGI scripts on behalf of HTTP requests.
package cgi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/z5labs/webserv/internal/httpmsg"
	"github.com/z5labs/webserv/pkg/noop"
	"github.com/z5labs/webserv/pkg/slogfield"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrCircuitOpen is returned while the bridge refuses to start scripts
// after repeated failures.
var ErrCircuitOpen = errors.New("cgi: circuit open")

// SpawnError occurs when the script process could not be started.
type SpawnError struct {
	Script string
	Cause  error
}

// Error implements the [builtin.error] interface.
func (e SpawnError) Error() string {
	return fmt.Sprintf("cgi: failed to start script: %s: %s", e.Script, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e SpawnError) Unwrap() error {
	return e.Cause
}

// TimeoutError occurs when a script runs longer than the configured timeout.
type TimeoutError struct {
	Script  string
	Timeout time.Duration
}

// Error implements the [builtin.error] interface.
func (e TimeoutError) Error() string {
	return fmt.Sprintf("cgi: script timed out after %s: %s", e.Timeout, e.Script)
}

// ForbiddenScriptError occurs when a script resolves inside a directory
// scripts may not run from, e.g. the uploads directory.
type ForbiddenScriptError struct {
	Script string
	Dir    string
}

// Error implements the [builtin.error] interface.
func (e ForbiddenScriptError) Error() string {
	return fmt.Sprintf("cgi: script is inside a denied directory: %s: %s", e.Script, e.Dir)
}

type options struct {
	dir         string
	deny        []string
	timeout     time.Duration
	tripAfter   uint32
	openTimeout time.Duration
	logHandler  slog.Handler
}

// Option configures a Bridge.
type Option func(*options)

// Dir sets the working directory scripts run in. Script names are resolved
// relative to it.
func Dir(dir string) Option {
	return func(o *options) {
		o.dir = dir
	}
}

// Timeout bounds the run time of a script. Zero disables the bound.
func Timeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// TripAfter opens the circuit after n consecutive spawn failures or
// timeouts. Zero disables the circuit breaker.
func TripAfter(n uint32) Option {
	return func(o *options) {
		o.tripAfter = n
	}
}

// OpenStateTimeout is how long the circuit stays open before letting a
// trial run through.
func OpenStateTimeout(d time.Duration) Option {
	return func(o *options) {
		o.openTimeout = d
	}
}

// Deny refuses to run scripts located inside any of dirs. Empty entries
// are ignored.
func Deny(dirs ...string) Option {
	return func(o *options) {
		for _, dir := range dirs {
			if dir == "" {
				continue
			}
			o.deny = append(o.deny, dir)
		}
	}
}

// LogHandler configures the underlying slog.Handler.
func LogHandler(h slog.Handler) Option {
	return func(o *options) {
		o.logHandler = h
	}
}

// Bridge executes scripts and captures their standard output.
type Bridge struct {
	dir     string
	deny    []string
	timeout time.Duration
	log     *slog.Logger
	cb      *gobreaker.CircuitBreaker
}

// NewBridge returns a Bridge configured by opts.
func NewBridge(opts ...Option) *Bridge {
	o := &options{
		dir:        ".",
		logHandler: noop.LogHandler{},
	}
	for _, opt := range opts {
		opt(o)
	}

	b := &Bridge{
		dir:     o.dir,
		deny:    o.deny,
		timeout: o.timeout,
		log:     slog.New(o.logHandler),
	}
	if o.tripAfter == 0 {
		return b
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "cgi",
		MaxRequests: 1,
		Timeout:     o.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= o.tripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			switch to {
			case gobreaker.StateOpen:
				b.log.Error("cgi circuit has been opened")
			case gobreaker.StateHalfOpen:
				b.log.Warn("cgi circuit is now half open and letting a trial run through")
			case gobreaker.StateClosed:
				b.log.Info("cgi circuit has been closed")
			}
		},
	})
	return b
}

// Run executes the script named by req's URI with rule's interpreter. The
// request body is written to the script's standard input and its standard
// output is returned in full. A script exiting with a non-zero status is
// not an error; its output is still returned.
func (b *Bridge) Run(ctx context.Context, rule Rule, req httpmsg.Request) ([]byte, error) {
	script := ScriptName(req.URI)

	spanCtx, span := otel.Tracer("github.com/z5labs/webserv/internal/cgi").Start(
		ctx,
		"Bridge.Run",
		trace.WithAttributes(
			attribute.String("cgi.script", script),
			attribute.String("cgi.handler", rule.Handler),
		),
	)
	defer span.End()

	err := b.allowed(script)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out, err := b.execute(spanCtx, rule, script, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("cgi.output_bytes", len(out)))
	return out, nil
}

func (b *Bridge) execute(ctx context.Context, rule Rule, script string, req httpmsg.Request) ([]byte, error) {
	if b.cb == nil {
		return b.run(ctx, rule, script, req)
	}

	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.run(ctx, rule, script, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (b *Bridge) run(ctx context.Context, rule Rule, script string, req httpmsg.Request) ([]byte, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	cmd := command(ctx, rule, script)
	cmd.Dir = b.dir
	cmd.Env = append(EnvironmentFor(req).List(), "PATH="+os.Getenv("PATH"))
	cmd.Stdin = bytes.NewReader(req.Body())
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Start()
	if err != nil {
		return nil, SpawnError{Script: script, Cause: err}
	}

	err = cmd.Wait()
	if stderr.Len() > 0 {
		b.log.WarnContext(
			ctx,
			"cgi script wrote to stderr",
			slogfield.String("script", script),
			slogfield.String("stderr", stderr.String()),
		)
	}
	if b.timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, TimeoutError{Script: script, Timeout: b.timeout}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		b.log.WarnContext(
			ctx,
			"cgi script exited with non-zero status",
			slogfield.String("script", script),
			slogfield.Int("exit_code", exitErr.ExitCode()),
		)
		return stdout.Bytes(), nil
	}
	if err != nil {
		return nil, err
	}
	return stdout.Bytes(), nil
}

func command(ctx context.Context, rule Rule, script string) *exec.Cmd {
	if rule.Handler != "" {
		return exec.CommandContext(ctx, rule.Handler, script)
	}
	if !filepath.IsAbs(script) {
		script = "./" + script
	}
	return exec.CommandContext(ctx, script)
}

// allowed checks the resolved script location against the denied
// directories. Symlinks are followed where they exist.
func (b *Bridge) allowed(script string) error {
	if len(b.deny) == 0 {
		return nil
	}

	p := resolve(filepath.Join(b.dir, script))
	for _, dir := range b.deny {
		rel, err := filepath.Rel(resolve(dir), p)
		if err != nil {
			continue
		}
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return ForbiddenScriptError{Script: script, Dir: dir}
	}
	return nil
}

func resolve(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	dir, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		return abs
	}
	return filepath.Join(dir, filepath.Base(abs))
}
