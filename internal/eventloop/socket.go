// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build linux

package eventloop

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/z5labs/webserv/pkg/slogfield"

	"golang.org/x/sys/unix"
)

// Listen creates the epoll instance and binds every configured port on
// all interfaces. A port which can not be bound is skipped. A port which
// can not be listened on is fatal.
func (s *Server) Listen() error {
	if s.listening {
		return nil
	}

	s.mu.Lock()
	s.closed = false
	s.mu.Unlock()
	s.bound = nil

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	s.epfd = epfd

	evfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		s.closeAll()
		return err
	}
	s.evfd = evfd

	err = s.epollCtl(unix.EPOLL_CTL_ADD, evfd, unix.EPOLLIN)
	if err != nil {
		s.closeAll()
		return err
	}

	for _, port := range s.ports {
		fd, err := s.bind(port)
		if err != nil {
			s.log.Error("failed to bind port, skipping it", slogfield.Port(port), slogfield.Error(err))
			continue
		}

		err = unix.Listen(fd, s.backlog)
		if err != nil {
			_ = unix.Close(fd)
			s.closeAll()
			return ListenError{Port: port, Cause: err}
		}

		err = s.epollCtl(unix.EPOLL_CTL_ADD, fd, unix.EPOLLIN)
		if err != nil {
			_ = unix.Close(fd)
			s.closeAll()
			return ListenError{Port: port, Cause: err}
		}

		actual := boundPort(fd, port)
		s.listeners[fd] = actual
		s.bound = append(s.bound, actual)
		s.log.Info("listening", slogfield.Port(actual), slogfield.FD(fd))
	}
	if len(s.listeners) == 0 {
		s.closeAll()
		return ErrNoListeners
	}

	s.listening = true
	return nil
}

func (s *Server) bind(port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}

	err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	if err != nil {
		_ = unix.Close(fd)
		return -1, err
	}

	err = unix.Bind(fd, &unix.SockaddrInet4{Port: port})
	if err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func boundPort(fd, configured int) int {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return configured
	}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		return in4.Port
	}
	return configured
}

func (s *Server) epollCtl(op, fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(s.epfd, op, fd, &ev)
}

// accept drains the listen queue of lfd.
func (s *Server) accept(lfd int) {
	for {
		fd, _, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch {
		case err == nil:
		case errors.Is(err, unix.EAGAIN):
			return
		case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
			continue
		default:
			s.pause(lfd, err)
			return
		}

		s.nextID++
		c := &conn{
			id:    s.nextID,
			fd:    fd,
			port:  s.listeners[lfd],
			state: awaitingRequest,
		}
		err = s.watch(c, unix.EPOLLIN|unix.EPOLLRDHUP)
		if err != nil {
			s.log.Error("failed to watch connection", slogfield.FD(fd), slogfield.Error(err))
			_ = unix.Close(fd)
			continue
		}
		s.conns[fd] = c
		s.connections.Add(context.Background(), 1)
		s.log.Debug("accepted connection", slogfield.Port(c.port), slogfield.FD(fd))
	}
}

// pause unwatches lfd until the accept backoff has elapsed. The pending
// connections stay queued in the listen backlog meanwhile.
func (s *Server) pause(lfd int, cause error) {
	port := s.listeners[lfd]
	err := s.epollCtl(unix.EPOLL_CTL_DEL, lfd, 0)
	if err != nil {
		s.log.Error("failed to accept connection", slogfield.Port(port), slogfield.Error(cause))
		return
	}
	s.paused[lfd] = time.Now().Add(s.backoff)
	s.log.Error(
		"failed to accept connection, pausing listener",
		slogfield.Port(port),
		slogfield.Duration("backoff", s.backoff),
		slogfield.Error(cause),
	)
}

// resume watches every paused listener whose backoff ended before now.
func (s *Server) resume(now time.Time) {
	for lfd, until := range s.paused {
		if now.Before(until) {
			continue
		}
		err := s.epollCtl(unix.EPOLL_CTL_ADD, lfd, unix.EPOLLIN)
		if err != nil {
			s.log.Error("failed to resume listener", slogfield.Port(s.listeners[lfd]), slogfield.Error(err))
			s.paused[lfd] = now.Add(s.backoff)
			continue
		}
		delete(s.paused, lfd)
		s.log.Info("resumed listener", slogfield.Port(s.listeners[lfd]))
	}
}

// waitTimeout is the epoll wait timeout in milliseconds. It is -1, block
// forever, while no listener is paused.
func (s *Server) waitTimeout(now time.Time) int {
	if len(s.paused) == 0 {
		return -1
	}
	var next time.Time
	for _, until := range s.paused {
		if next.IsZero() || until.Before(next) {
			next = until
		}
	}
	d := next.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}

// watch changes the events c is watched for. Zero removes it from epoll.
func (s *Server) watch(c *conn, events uint32) error {
	var err error
	switch {
	case events == c.events:
		return nil
	case events == 0:
		err = s.epollCtl(unix.EPOLL_CTL_DEL, c.fd, 0)
	case c.events == 0:
		err = s.epollCtl(unix.EPOLL_CTL_ADD, c.fd, events)
	default:
		err = s.epollCtl(unix.EPOLL_CTL_MOD, c.fd, events)
	}
	if err != nil {
		return err
	}
	c.events = events
	return nil
}

func (s *Server) closeConn(c *conn) {
	if c.state == closing {
		return
	}
	c.state = closing
	if c.span != nil {
		c.span.End()
		c.span = nil
	}

	_ = s.watch(c, 0)
	err := unix.Close(c.fd)
	if err != nil {
		s.log.Error("failed to close connection", slogfield.FD(c.fd), slogfield.Error(err))
	}
	delete(s.conns, c.fd)
	s.connections.Add(context.Background(), -1)
}

// closeAll closes every socket. Completions arriving afterwards are dropped.
func (s *Server) closeAll() {
	s.mu.Lock()
	s.closed = true
	s.completions = nil
	s.mu.Unlock()

	for _, c := range s.conns {
		s.closeConn(c)
	}
	for fd := range s.listeners {
		_ = unix.Close(fd)
		delete(s.listeners, fd)
	}
	clear(s.paused)
	if s.evfd >= 0 {
		_ = unix.Close(s.evfd)
		s.evfd = -1
	}
	if s.epfd >= 0 {
		_ = unix.Close(s.epfd)
		s.epfd = -1
	}
	s.listening = false
}

// wake interrupts the readiness wait.
func (s *Server) wake() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wakeLocked()
}

func (s *Server) wakeLocked() {
	if s.closed || s.evfd < 0 {
		return
	}
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)
	_, _ = unix.Write(s.evfd, b[:])
}

func (s *Server) drainWake() {
	var b [8]byte
	_, _ = unix.Read(s.evfd, b[:])
}
