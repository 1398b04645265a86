// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package slogfield provides typed slog.Attr constructors with the keys used across webserv.
package slogfield

import (
	"log/slog"
	"time"
)

// Bool returns an slog.Attr for a bool.
func Bool(key string, value bool) slog.Attr {
	return slog.Bool(key, value)
}

// Duration returns an slog.Attr for a time.Duration.
func Duration(key string, d time.Duration) slog.Attr {
	return slog.Duration(key, d)
}

// Error returns an slog.Attr for a error.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// String returns an slog.Attr for a string.
func String(key, value string) slog.Attr {
	return slog.String(key, value)
}

// Int returns an slog.Attr for a int.
func Int(key string, n int) slog.Attr {
	return slog.Int(key, n)
}

// Ints returns an slog.Attr for a slice of ints.
func Ints(key string, ns []int) slog.Attr {
	return slog.Any(key, ns)
}

// Port returns the slog.Attr used for listening ports.
func Port(port int) slog.Attr {
	return slog.Int("port", port)
}

// FD returns the slog.Attr used for socket file descriptors.
func FD(fd int) slog.Attr {
	return slog.Int("fd", fd)
}

// Method returns the slog.Attr used for HTTP request methods.
func Method(method string) slog.Attr {
	return slog.String("http_method", method)
}

// URI returns the slog.Attr used for HTTP request targets.
func URI(uri string) slog.Attr {
	return slog.String("http_uri", uri)
}

// Status returns the slog.Attr used for HTTP response status codes.
func Status(code int) slog.Attr {
	return slog.Int("http_status", code)
}
