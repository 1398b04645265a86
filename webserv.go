// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package webserv

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/z5labs/webserv/config"
	"github.com/z5labs/webserv/internal/cgi"
	"github.com/z5labs/webserv/internal/otelconfig"
	"github.com/z5labs/webserv/internal/vserver"
	"github.com/z5labs/webserv/pkg/otelslog"
)

//go:embed default_config.yaml
var defaultConfig []byte

// DefaultConfig is the lowest priority config source. Every other source
// overrides the values it sets.
func DefaultConfig() config.Source {
	return config.FromYaml(bytes.NewReader(defaultConfig))
}

// Config is everything the serve command reads at startup.
type Config struct {
	Servers       []vserver.Config `config:"servers"`
	UploadsDir    string           `config:"uploads_dir"`
	DeletableRoot string           `config:"deletable_root"`
	FormLog       string           `config:"form_log"`
	ErrorsRoot    string           `config:"errors_root"`

	CGI struct {
		Dir      string        `config:"dir"`
		Timeout  time.Duration `config:"timeout"`
		Handlers cgi.Rules     `config:"handlers"`
		Breaker  struct {
			TripAfter   uint32        `config:"trip_after"`
			OpenTimeout time.Duration `config:"open_timeout"`
		} `config:"breaker"`
	} `config:"cgi"`

	Limits struct {
		ReadChunk       int `config:"read_chunk"`
		MaxRequestBytes int `config:"max_request_bytes"`
	} `config:"limits"`

	Workers uint `config:"workers"`

	Log struct {
		Level  slog.Level `config:"level"`
		Format string     `config:"format"`
	} `config:"log"`

	Otel otelconfig.Config `config:"otel"`
}

// Log formats.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// UnknownLogFormatError occurs when log.format is neither json nor text.
type UnknownLogFormatError struct {
	Format string
}

// Error implements the [builtin.error] interface.
func (e UnknownLogFormatError) Error() string {
	return fmt.Sprintf("unknown log format: %q", e.Format)
}

// NewLogHandler returns the slog.Handler described by cfg, writing to w.
// Records logged inside a span are annotated with its trace and span ids.
func NewLogHandler(cfg Config, w io.Writer) (slog.Handler, error) {
	opts := &slog.HandlerOptions{
		AddSource: cfg.Log.Level <= slog.LevelDebug,
		Level:     cfg.Log.Level,
	}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "", LogFormatJSON:
		h = slog.NewJSONHandler(w, opts)
	case LogFormatText:
		h = slog.NewTextHandler(w, opts)
	default:
		return nil, UnknownLogFormatError{Format: cfg.Log.Format}
	}
	return otelslog.NewHandler(h), nil
}

// ConfigReadError
type ConfigReadError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ConfigReadError) Error() string {
	return fmt.Sprintf("failed to read config source(s): %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ConfigReadError) Unwrap() error {
	return e.Cause
}

// ConfigUnmarshalError
type ConfigUnmarshalError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ConfigUnmarshalError) Error() string {
	return fmt.Sprintf("failed to unmarshal read config source(s) into Config: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ConfigUnmarshalError) Unwrap() error {
	return e.Cause
}

// AppBuildError
type AppBuildError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e AppBuildError) Error() string {
	return fmt.Sprintf("failed to build app: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e AppBuildError) Unwrap() error {
	return e.Cause
}

// AppRunError
type AppRunError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e AppRunError) Error() string {
	return fmt.Sprintf("failed to run app: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e AppRunError) Unwrap() error {
	return e.Cause
}
