// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package errpage loads the HTML bodies used for error responses.
package errpage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/z5labs/webserv/pkg/noop"
	"github.com/z5labs/webserv/pkg/slogfield"
)

// ContentType of every page returned by a Loader.
const ContentType = "text/html"

// Option configures a Loader.
type Option func(*Loader)

// LogHandler configures the underlying slog.Handler.
func LogHandler(h slog.Handler) Option {
	return func(l *Loader) {
		l.log = slog.New(h)
	}
}

// Loader reads "<root>/<code>.html" and falls back to a generated page.
type Loader struct {
	root string
	log  *slog.Logger
}

// NewLoader returns a Loader reading pages from root.
func NewLoader(root string, opts ...Option) *Loader {
	l := &Loader{
		root: root,
		log:  slog.New(noop.LogHandler{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load never fails. A missing or unreadable page is replaced by Fallback.
func (l *Loader) Load(ctx context.Context, code int) []byte {
	if l == nil || l.root == "" {
		return Fallback(code)
	}

	p := filepath.Join(l.root, strconv.Itoa(code)+".html")
	b, err := os.ReadFile(p)
	if err != nil {
		l.log.WarnContext(
			ctx,
			"failed to load error page",
			slogfield.String("path", p),
			slogfield.Error(err),
		)
		return Fallback(code)
	}
	return b
}

// Fallback is the inline page used when no error page file is available.
func Fallback(code int) []byte {
	return []byte(fmt.Sprintf("<html><body><h1>Error %d</h1></body></html>", code))
}
