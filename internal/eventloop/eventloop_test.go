// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build linux

package eventloop

import (
	"bufio"
	"context"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/z5labs/webserv/internal/httpmsg"
	"github.com/z5labs/webserv/internal/worker"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func echoHandler() Handler {
	return HandlerFunc(func(ctx context.Context, req httpmsg.Request) httpmsg.Response {
		return httpmsg.NewResponse(http.StatusOK).WithBody("text/plain", []byte(req.Method+" "+req.URI+" "+string(req.Body())))
	})
}

func startServer(t *testing.T, h Handler, opts ...Option) (addr string, s *Server) {
	t.Helper()

	s = New(h, []int{0}, opts...)
	require.NoError(t, s.Listen())
	return runServer(t, s), s
}

func runServer(t *testing.T, s *Server) string {
	t.Helper()

	ports := s.BoundPorts()
	require.Len(t, ports, 1)
	require.NotZero(t, ports[0])

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return "127.0.0.1:" + strconv.Itoa(ports[0])
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServer_Listen(t *testing.T) {
	t.Run("will return ErrNoListeners", func(t *testing.T) {
		t.Run("if no port could be bound", func(t *testing.T) {
			ln, err := net.Listen("tcp4", "0.0.0.0:0")
			require.NoError(t, err)
			defer ln.Close()
			busy := ln.Addr().(*net.TCPAddr).Port

			s := New(echoHandler(), []int{busy})
			err = s.Listen()

			require.ErrorIs(t, err, ErrNoListeners)
		})
	})

	t.Run("will skip ports which can not be bound", func(t *testing.T) {
		ln, err := net.Listen("tcp4", "0.0.0.0:0")
		require.NoError(t, err)
		defer ln.Close()
		busy := ln.Addr().(*net.TCPAddr).Port

		s := New(echoHandler(), []int{busy, 0})
		require.NoError(t, s.Listen())
		defer s.closeAll()

		ports := s.BoundPorts()
		require.Len(t, ports, 1)
		require.NotEqual(t, busy, ports[0])
	})
}

func TestServer_Run(t *testing.T) {
	t.Run("will close the connection without keep-alive", func(t *testing.T) {
		addr, _ := startServer(t, echoHandler())
		conn := dial(t, addr)

		_, err := io.WriteString(conn, "GET /a HTTP/1.1\r\nHost: localhost\r\n\r\n")
		require.NoError(t, err)

		b, err := io.ReadAll(conn)
		require.NoError(t, err)

		resp := httpmsg.ParseResponse(b)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "close", resp.HeaderValue(httpmsg.HeaderConnection))
		require.Equal(t, "GET /a ", string(resp.Body()))
	})

	t.Run("will keep the connection open with keep-alive", func(t *testing.T) {
		addr, _ := startServer(t, echoHandler())
		conn := dial(t, addr)
		r := bufio.NewReader(conn)

		for _, uri := range []string{"/one", "/two"} {
			_, err := io.WriteString(conn, "GET "+uri+" HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")
			require.NoError(t, err)

			resp, err := http.ReadResponse(r, nil)
			require.NoError(t, err)
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			resp.Body.Close()

			require.Equal(t, http.StatusOK, resp.StatusCode)
			require.Equal(t, "keep-alive", resp.Header.Get("Connection"))
			require.Equal(t, "GET "+uri+" ", string(body))
		}
	})

	t.Run("will answer pipelined requests in order", func(t *testing.T) {
		addr, _ := startServer(t, echoHandler())
		conn := dial(t, addr)
		r := bufio.NewReader(conn)

		_, err := io.WriteString(conn,
			"GET /1 HTTP/1.1\r\nConnection: keep-alive\r\n\r\n"+
				"GET /2 HTTP/1.1\r\nConnection: keep-alive\r\n\r\n"+
				"GET /3 HTTP/1.1\r\n\r\n",
		)
		require.NoError(t, err)

		for _, uri := range []string{"/1", "/2", "/3"} {
			resp, err := http.ReadResponse(r, nil)
			require.NoError(t, err)
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			resp.Body.Close()

			require.Equal(t, "GET "+uri+" ", string(body))
		}

		_, err = r.ReadByte()
		require.ErrorIs(t, err, io.EOF)
	})

	t.Run("will accumulate requests split across reads", func(t *testing.T) {
		addr, _ := startServer(t, echoHandler(), ReadChunk(4))
		conn := dial(t, addr)

		raw := "POST /upload HTTP/1.1\r\nContent-Length: 11\r\n\r\nhello world"
		for i := 0; i < len(raw); i += 7 {
			end := min(i+7, len(raw))
			_, err := io.WriteString(conn, raw[i:end])
			require.NoError(t, err)
			time.Sleep(time.Millisecond)
		}

		b, err := io.ReadAll(conn)
		require.NoError(t, err)

		resp := httpmsg.ParseResponse(b)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "POST /upload hello world", string(resp.Body()))
	})

	t.Run("will respond with 413 if the request is too large", func(t *testing.T) {
		addr, _ := startServer(t, echoHandler(), MaxRequestBytes(64))
		conn := dial(t, addr)

		_, err := io.WriteString(conn, "POST / HTTP/1.1\r\nContent-Length: 1000\r\n\r\n")
		require.NoError(t, err)

		b, err := io.ReadAll(conn)
		require.NoError(t, err)

		resp := httpmsg.ParseResponse(b)
		require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
		require.Equal(t, "close", resp.HeaderValue(httpmsg.HeaderConnection))
		require.Equal(t, strconv.Itoa(len(resp.Body())), resp.HeaderValue(httpmsg.HeaderContentLength))
	})

	t.Run("will keep serving after a content length which overflows", func(t *testing.T) {
		addr, _ := startServer(t, echoHandler())
		conn := dial(t, addr)

		_, err := io.WriteString(conn, "GET / HTTP/1.1\r\nContent-Length: "+strconv.Itoa(math.MaxInt)+"\r\n\r\n")
		require.NoError(t, err)

		b, err := io.ReadAll(conn)
		require.NoError(t, err)

		resp := httpmsg.ParseResponse(b)
		require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

		next := dial(t, addr)
		_, err = io.WriteString(next, "GET /ok HTTP/1.1\r\n\r\n")
		require.NoError(t, err)

		b, err = io.ReadAll(next)
		require.NoError(t, err)

		resp = httpmsg.ParseResponse(b)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "GET /ok ", string(resp.Body()))
	})

	t.Run("will respond with 400 if the request can not be framed", func(t *testing.T) {
		addr, _ := startServer(t, echoHandler())
		conn := dial(t, addr)

		_, err := io.WriteString(conn, "POST / HTTP/1.1\r\nContent-Length: nope\r\nConnection: keep-alive\r\n\r\n")
		require.NoError(t, err)

		b, err := io.ReadAll(conn)
		require.NoError(t, err)

		resp := httpmsg.ParseResponse(b)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("will respond with 500 if the handler panics", func(t *testing.T) {
		addr, _ := startServer(t, HandlerFunc(func(context.Context, httpmsg.Request) httpmsg.Response {
			panic("boom")
		}))
		conn := dial(t, addr)

		_, err := io.WriteString(conn, "GET / HTTP/1.1\r\n\r\n")
		require.NoError(t, err)

		b, err := io.ReadAll(conn)
		require.NoError(t, err)

		resp := httpmsg.ParseResponse(b)
		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		require.Contains(t, string(resp.Body()), "Error 500")
	})

	t.Run("will hand requests to the worker pool", func(t *testing.T) {
		pool := worker.New(worker.MaxConcurrentTasks(2))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go pool.Run(ctx)

		release := make(chan struct{})
		h := HandlerFunc(func(ctx context.Context, req httpmsg.Request) httpmsg.Response {
			if req.URI == "/slow" {
				<-release
			}
			return httpmsg.NewResponse(http.StatusOK).WithBody("text/plain", []byte(req.URI))
		})
		addr, _ := startServer(t, h, Workers(pool))

		slow := dial(t, addr)
		_, err := io.WriteString(slow, "GET /slow HTTP/1.1\r\n\r\n")
		require.NoError(t, err)

		fast := dial(t, addr)
		_, err = io.WriteString(fast, "GET /fast HTTP/1.1\r\n\r\n")
		require.NoError(t, err)

		b, err := io.ReadAll(fast)
		require.NoError(t, err)
		require.Equal(t, "/fast", string(httpmsg.ParseResponse(b).Body()))

		close(release)
		b, err = io.ReadAll(slow)
		require.NoError(t, err)
		require.Equal(t, "/slow", string(httpmsg.ParseResponse(b).Body()))
	})

	t.Run("will serve large responses", func(t *testing.T) {
		payload := strings.Repeat("x", 4<<20)
		addr, _ := startServer(t, HandlerFunc(func(context.Context, httpmsg.Request) httpmsg.Response {
			return httpmsg.NewResponse(http.StatusOK).WithBody("text/plain", []byte(payload))
		}))
		conn := dial(t, addr)

		_, err := io.WriteString(conn, "GET / HTTP/1.1\r\n\r\n")
		require.NoError(t, err)

		resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		resp.Body.Close()

		require.Len(t, body, len(payload))
	})

	t.Run("will stop when the context is cancelled", func(t *testing.T) {
		s := New(echoHandler(), []int{0})
		require.NoError(t, s.Listen())
		port := s.BoundPorts()[0]

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() {
			errCh <- s.Run(ctx)
		}()

		conn := dial(t, "127.0.0.1:"+strconv.Itoa(port))
		_, err := io.WriteString(conn, "GET / HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")
		require.NoError(t, err)
		_, err = http.ReadResponse(bufio.NewReader(conn), nil)
		require.NoError(t, err)

		cancel()
		select {
		case err := <-errCh:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return")
		}

		_, err = net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(port), time.Second)
		require.Error(t, err)
	})
}

func onlyListener(t *testing.T, s *Server) int {
	t.Helper()

	require.Len(t, s.listeners, 1)
	for fd := range s.listeners {
		return fd
	}
	return -1
}

func TestServer_pause(t *testing.T) {
	t.Run("will stop watching a listener until the backoff elapses", func(t *testing.T) {
		s := New(echoHandler(), []int{0}, AcceptBackoff(time.Minute))
		require.NoError(t, s.Listen())
		t.Cleanup(s.closeAll)

		lfd := onlyListener(t, s)
		now := time.Now()
		s.pause(lfd, unix.EMFILE)

		require.Contains(t, s.paused, lfd)
		require.Greater(t, s.waitTimeout(now), 0)
		require.ErrorIs(t, s.epollCtl(unix.EPOLL_CTL_DEL, lfd, 0), unix.ENOENT)

		s.resume(now)
		require.Contains(t, s.paused, lfd)

		s.resume(now.Add(2 * time.Minute))
		require.Empty(t, s.paused)
		require.Equal(t, -1, s.waitTimeout(now))
		require.ErrorIs(t, s.epollCtl(unix.EPOLL_CTL_ADD, lfd, unix.EPOLLIN), unix.EEXIST)
	})

	t.Run("will wake immediately if a backoff has already elapsed", func(t *testing.T) {
		s := New(echoHandler(), nil)
		s.paused[3] = time.Now().Add(time.Hour)
		s.paused[4] = time.Now().Add(-time.Second)

		require.Zero(t, s.waitTimeout(time.Now()))
	})

	t.Run("will serve connections queued while paused", func(t *testing.T) {
		s := New(echoHandler(), []int{0}, AcceptBackoff(50*time.Millisecond))
		require.NoError(t, s.Listen())
		s.pause(onlyListener(t, s), unix.EMFILE)

		addr := runServer(t, s)
		conn := dial(t, addr)

		_, err := io.WriteString(conn, "GET /queued HTTP/1.1\r\n\r\n")
		require.NoError(t, err)

		b, err := io.ReadAll(conn)
		require.NoError(t, err)

		resp := httpmsg.ParseResponse(b)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "GET /queued ", string(resp.Body()))
	})
}
