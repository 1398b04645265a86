// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build linux

package eventloop

import (
	"cmp"
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/z5labs/webserv/internal/httpmsg"
	"github.com/z5labs/webserv/internal/try"
	"github.com/z5labs/webserv/pkg/slogfield"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sys/unix"
)

type state int

const (
	awaitingRequest state = iota
	processing
	awaitingWrite
	closing
)

func (s state) String() string {
	switch s {
	case awaitingRequest:
		return "awaiting_request"
	case processing:
		return "processing"
	case awaitingWrite:
		return "awaiting_write"
	case closing:
		return "closing"
	}
	return "unknown"
}

type conn struct {
	id     uint64
	fd     int
	port   int
	state  state
	events uint32

	in  []byte
	out []byte

	keepAlive bool
	method    string
	span      trace.Span
}

type completion struct {
	fd   int
	id   uint64
	resp httpmsg.Response
}

func (s *Server) loop(ctx context.Context) error {
	events := make([]unix.EpollEvent, 128)
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := unix.EpollWait(s.epfd, events, s.waitTimeout(time.Now()))
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return err
		}
		s.resume(time.Now())

		ready := events[:n]
		slices.SortFunc(ready, func(a, b unix.EpollEvent) int {
			return cmp.Compare(a.Fd, b.Fd)
		})

		for _, ev := range ready {
			fd := int(ev.Fd)
			if fd == s.evfd {
				s.drainWake()
				continue
			}
			if _, ok := s.listeners[fd]; ok {
				s.accept(fd)
				continue
			}

			c, ok := s.conns[fd]
			if !ok {
				continue
			}
			switch {
			case c.state == awaitingWrite && ev.Events&(unix.EPOLLOUT|unix.EPOLLERR|unix.EPOLLHUP) != 0:
				s.flush(ctx, c)
			case c.state == awaitingRequest:
				s.read(ctx, c)
			}
		}

		s.complete(ctx)
	}
}

// read performs a single bounded read and frames whatever has accumulated.
func (s *Server) read(ctx context.Context, c *conn) {
	n, err := unix.Read(c.fd, s.readBuf)
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
		return
	}
	if err != nil {
		s.log.ErrorContext(ctx, "failed to read from connection", slogfield.FD(c.fd), slogfield.Error(err))
		s.closeConn(c)
		return
	}
	if n == 0 {
		s.log.DebugContext(ctx, "peer closed connection", slogfield.FD(c.fd))
		s.closeConn(c)
		return
	}

	c.in = append(c.in, s.readBuf[:n]...)
	s.process(ctx, c)
}

// process hands the next complete request in c's buffer to the handler.
func (s *Server) process(ctx context.Context, c *conn) {
	n, err := httpmsg.Frame(c.in, s.maxBytes)
	if errors.Is(err, httpmsg.ErrIncomplete) {
		return
	}

	var merr httpmsg.MalformedRequestError
	switch {
	case errors.Is(err, httpmsg.ErrRequestTooLarge):
		s.reject(ctx, c, http.StatusRequestEntityTooLarge, err)
		return
	case errors.As(err, &merr):
		s.reject(ctx, c, http.StatusBadRequest, err)
		return
	case err != nil:
		s.reject(ctx, c, http.StatusBadRequest, err)
		return
	}

	if n <= 0 || n > len(c.in) {
		s.reject(ctx, c, http.StatusBadRequest, httpmsg.MalformedRequestError{Reason: "framed length outside buffer"})
		return
	}

	raw := c.in[:n]
	c.in = append([]byte(nil), c.in[n:]...)
	req := httpmsg.Parse(raw)

	spanCtx, span := otel.Tracer("github.com/z5labs/webserv/internal/eventloop").Start(
		ctx,
		"Server.serve",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.target", req.URI),
			attribute.Int("net.host.port", c.port),
		),
	)
	c.span = span
	c.method = req.Method
	c.keepAlive = req.KeepAlive()
	c.state = processing

	err = s.watch(c, 0)
	if err != nil {
		s.log.ErrorContext(spanCtx, "failed to unwatch connection", slogfield.FD(c.fd), slogfield.Error(err))
		s.closeConn(c)
		return
	}

	if s.submitter == nil {
		s.respond(spanCtx, c, s.handle(spanCtx, req))
		return
	}

	fd, id := c.fd, c.id
	s.submitter.Submit(spanCtx, func(ctx context.Context) error {
		resp := s.handle(ctx, req)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return nil
		}
		s.completions = append(s.completions, completion{fd: fd, id: id, resp: resp})
		s.wakeLocked()
		return nil
	})
}

func (s *Server) handle(ctx context.Context, req httpmsg.Request) httpmsg.Response {
	resp, err := safeHandle(ctx, s.handler, req)
	if err != nil {
		s.log.ErrorContext(ctx, "handler panicked", slogfield.URI(req.URI), slogfield.Error(err))
		return s.errorResponse(ctx, http.StatusInternalServerError)
	}
	return resp
}

func safeHandle(ctx context.Context, h Handler, req httpmsg.Request) (resp httpmsg.Response, err error) {
	defer try.Recover(&err)

	return h.Handle(ctx, req), nil
}

func (s *Server) errorResponse(ctx context.Context, code int) httpmsg.Response {
	return httpmsg.NewResponse(code).WithBody("text/html", s.pages.Load(ctx, code))
}

// reject answers a request which could not be framed and closes the
// connection once the answer is written.
func (s *Server) reject(ctx context.Context, c *conn, code int, cause error) {
	s.log.WarnContext(ctx, "rejecting request", slogfield.FD(c.fd), slogfield.Status(code), slogfield.Error(cause))

	c.in = nil
	c.keepAlive = false
	c.state = processing
	err := s.watch(c, 0)
	if err != nil {
		s.closeConn(c)
		return
	}
	s.respond(ctx, c, s.errorResponse(ctx, code))
}

// complete writes the responses produced by workers since the last call.
func (s *Server) complete(ctx context.Context) {
	s.mu.Lock()
	done := s.completions
	s.completions = nil
	s.mu.Unlock()

	for _, d := range done {
		c, ok := s.conns[d.fd]
		if !ok || c.id != d.id || c.state != processing {
			continue
		}
		s.respond(ctx, c, d.resp)
	}
}

func (s *Server) respond(ctx context.Context, c *conn, resp httpmsg.Response) {
	if c.keepAlive {
		resp = resp.WithHeader(httpmsg.HeaderConnection, "keep-alive")
	} else {
		resp = resp.WithHeader(httpmsg.HeaderConnection, "close")
	}

	s.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", c.method),
		attribute.Int("status", resp.StatusCode),
	))
	if c.span != nil {
		c.span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		c.span.End()
		c.span = nil
	}

	c.out = httpmsg.Serialize(resp)
	s.flush(ctx, c)
}

// flush writes as much of c's pending output as the socket accepts. Once
// drained the connection is closed or goes back to waiting for the next
// request, which may already be buffered.
func (s *Server) flush(ctx context.Context, c *conn) {
	for len(c.out) > 0 {
		n, err := unix.Write(c.fd, c.out)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if errors.Is(err, unix.EAGAIN) {
			c.state = awaitingWrite
			err = s.watch(c, unix.EPOLLOUT)
			if err != nil {
				s.log.ErrorContext(ctx, "failed to watch connection for writes", slogfield.FD(c.fd), slogfield.Error(err))
				s.closeConn(c)
			}
			return
		}
		if err != nil {
			s.log.ErrorContext(ctx, "failed to write to connection", slogfield.FD(c.fd), slogfield.Error(err))
			s.closeConn(c)
			return
		}
		c.out = c.out[n:]
	}
	c.out = nil

	if !c.keepAlive {
		s.closeConn(c)
		return
	}

	c.state = awaitingRequest
	err := s.watch(c, unix.EPOLLIN|unix.EPOLLRDHUP)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to watch connection", slogfield.FD(c.fd), slogfield.Error(err))
		s.closeConn(c)
		return
	}
	if len(c.in) > 0 {
		s.process(ctx, c)
	}
}
