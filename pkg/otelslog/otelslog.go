// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package otelslog correlates log records with the span active in their context.
package otelslog

import (
	"context"
	"log/slog"

	"github.com/z5labs/webserv/pkg/slogfield"

	"go.opentelemetry.io/otel/trace"
)

// Handler adds trace_id and span_id to every record logged with a context
// carrying a valid span. Records without one pass through untouched.
type Handler struct {
	slog.Handler
}

// NewHandler wraps h.
func NewHandler(h slog.Handler) Handler {
	return Handler{Handler: h}
}

// Handle implements the slog.Handler interface.
func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	sc := trace.SpanContextFromContext(ctx)
	if sc.IsValid() {
		r = r.Clone()
		r.AddAttrs(
			slogfield.String("trace_id", sc.TraceID().String()),
			slogfield.String("span_id", sc.SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

// WithAttrs implements the slog.Handler interface.
func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewHandler(h.Handler.WithAttrs(attrs))
}

// WithGroup implements the slog.Handler interface.
func (h Handler) WithGroup(name string) slog.Handler {
	return NewHandler(h.Handler.WithGroup(name))
}
