// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package probe checks whether a running server answers requests.
package probe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/z5labs/webserv/internal/try"
	"github.com/z5labs/webserv/pkg/noop"
	"github.com/z5labs/webserv/pkg/slogfield"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// UnhealthyError occurs when the probed URL answers with a non-2xx status.
type UnhealthyError struct {
	URL        string
	StatusCode int
}

// Error implements the [builtin.error] interface.
func (e UnhealthyError) Error() string {
	return fmt.Sprintf("probe: %s responded with status %d", e.URL, e.StatusCode)
}

type options struct {
	timeout    time.Duration
	retries    int
	waitMin    time.Duration
	waitMax    time.Duration
	rt         http.RoundTripper
	logHandler slog.Handler
}

// Option configures a Prober.
type Option func(*options)

// Timeout bounds each attempt.
func Timeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// Retries sets how many times a failed attempt is retried.
func Retries(n int) Option {
	return func(o *options) {
		o.retries = n
	}
}

// RetryWait bounds the backoff between attempts.
func RetryWait(min, max time.Duration) Option {
	return func(o *options) {
		o.waitMin = min
		o.waitMax = max
	}
}

// RoundTripper overrides the transport.
func RoundTripper(rt http.RoundTripper) Option {
	return func(o *options) {
		o.rt = rt
	}
}

// LogHandler configures the underlying slog.Handler.
func LogHandler(h slog.Handler) Option {
	return func(o *options) {
		o.logHandler = h
	}
}

// Prober issues GET requests with retries.
type Prober struct {
	log    *slog.Logger
	client *http.Client
}

// New returns a Prober configured by opts.
func New(opts ...Option) *Prober {
	o := &options{
		timeout:    5 * time.Second,
		retries:    3,
		waitMin:    100 * time.Millisecond,
		waitMax:    2 * time.Second,
		rt:         http.DefaultTransport,
		logHandler: noop.LogHandler{},
	}
	for _, opt := range opts {
		opt(o)
	}

	logger := slog.New(o.logHandler)
	rc := retryablehttp.Client{
		HTTPClient: &http.Client{
			Timeout: o.timeout,
			Transport: otelhttp.NewTransport(&logRoundTripper{
				base: o.rt,
				log:  logger,
			}),
		},
		RetryWaitMin: o.waitMin,
		RetryWaitMax: o.waitMax,
		RetryMax:     o.retries,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		Backoff:      retryablehttp.DefaultBackoff,
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
	}
	return &Prober{
		log:    logger,
		client: rc.StandardClient(),
	}
}

// Check succeeds when url answers a GET with a 2xx status.
func (p *Prober) Check(ctx context.Context, url string) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Close = true

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer try.Close(&err, resp.Body)

	_, err = io.Copy(io.Discard, resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return UnhealthyError{URL: url, StatusCode: resp.StatusCode}
	}
	return nil
}

type logRoundTripper struct {
	base http.RoundTripper
	log  *slog.Logger
}

func (rt *logRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	start := time.Now()
	rt.log.DebugContext(
		ctx,
		"probe sent",
		slogfield.String("url", req.URL.String()),
	)
	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		rt.log.WarnContext(
			ctx,
			"probe failed",
			slogfield.String("url", req.URL.String()),
			slogfield.Error(err),
		)
		return nil, err
	}
	rt.log.InfoContext(
		ctx,
		"probe response received",
		slogfield.String("url", req.URL.String()),
		slogfield.Int("status", resp.StatusCode),
		slogfield.Duration("latency", time.Since(start)),
	)
	return resp, nil
}
