// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package router validates requests and dispatches them to the static,
// upload, form, delete and CGI handlers.
package router

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/z5labs/webserv/internal/cgi"
	"github.com/z5labs/webserv/internal/errpage"
	"github.com/z5labs/webserv/internal/httpmsg"
	"github.com/z5labs/webserv/internal/vserver"
	"github.com/z5labs/webserv/pkg/noop"
	"github.com/z5labs/webserv/pkg/slogfield"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AllowedMethods is sent in the Allow header of rejected requests.
const AllowedMethods = "GET, POST, DELETE"

// DefaultPort is used when the Host header carries no port.
const DefaultPort = 80

// ScriptRunner executes CGI scripts.
type ScriptRunner interface {
	Run(context.Context, cgi.Rule, httpmsg.Request) ([]byte, error)
}

// Option configures a Router.
type Option func(*Router)

// UploadsDir is where multipart uploads are written.
func UploadsDir(dir string) Option {
	return func(r *Router) {
		r.uploadsDir = dir
	}
}

// DeletableRoot is the directory DELETE paths are resolved against.
// It defaults to the uploads directory.
func DeletableRoot(dir string) Option {
	return func(r *Router) {
		r.deletableRoot = dir
	}
}

// FormLog is the file urlencoded form fields are appended to.
func FormLog(path string) Option {
	return func(r *Router) {
		r.formLog = path
	}
}

// ErrorPages sets the loader used for error response bodies.
func ErrorPages(l *errpage.Loader) Option {
	return func(r *Router) {
		r.pages = l
	}
}

// CGI routes URIs matching rules to runner.
func CGI(rules cgi.Rules, runner ScriptRunner) Option {
	return func(r *Router) {
		r.rules = rules
		r.scripts = runner
	}
}

// LogHandler configures the underlying slog.Handler.
func LogHandler(h slog.Handler) Option {
	return func(r *Router) {
		r.log = slog.New(h)
	}
}

// Router turns requests into responses. It is safe for concurrent use.
type Router struct {
	log     *slog.Logger
	servers vserver.Table
	pages   *errpage.Loader
	rules   cgi.Rules
	scripts ScriptRunner

	uploadsDir    string
	deletableRoot string
	formLog       string

	// serializes appends to formLog
	formMu sync.Mutex
}

// New returns a Router serving the virtual servers in servers.
func New(servers vserver.Table, opts ...Option) *Router {
	r := &Router{
		log:        slog.New(noop.LogHandler{}),
		servers:    servers,
		uploadsDir: ".",
		formLog:    "form_data.txt",
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.uploadsDir == "" {
		r.uploadsDir = "."
	}
	if r.deletableRoot == "" {
		r.deletableRoot = r.uploadsDir
	}
	return r
}

// Handle always returns a complete response. Handler failures are turned
// into error responses.
func (r *Router) Handle(ctx context.Context, req httpmsg.Request) httpmsg.Response {
	spanCtx, span := otel.Tracer("github.com/z5labs/webserv/internal/router").Start(
		ctx,
		"Router.Handle",
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.target", req.URI),
		),
	)
	defer span.End()

	resp := r.dispatch(spanCtx, req)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	r.log.InfoContext(
		spanCtx,
		"handled request",
		slogfield.Method(req.Method),
		slogfield.URI(req.URI),
		slogfield.Status(resp.StatusCode),
	)
	return resp
}

func (r *Router) dispatch(ctx context.Context, req httpmsg.Request) httpmsg.Response {
	if !allowedMethod(req.Method) {
		r.log.WarnContext(ctx, "unsupported method", slogfield.Method(req.Method))
		return r.errorResponse(ctx, http.StatusBadRequest).WithHeader(httpmsg.HeaderAllow, AllowedMethods)
	}
	if req.URI == "" || req.Version == "" {
		r.log.WarnContext(ctx, "incomplete request line", slogfield.URI(req.URI))
		return r.errorResponse(ctx, http.StatusBadRequest)
	}

	if rule, ok := r.rules.Match(req.URI); ok && r.scripts != nil {
		return r.serveCGI(ctx, rule, req)
	}

	switch req.Method {
	case http.MethodGet:
		return r.serveStatic(ctx, req)
	case http.MethodPost:
		return r.servePost(ctx, req)
	default:
		return r.serveDelete(ctx, req)
	}
}

func allowedMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodDelete:
		return true
	}
	return false
}

func (r *Router) errorResponse(ctx context.Context, code int) httpmsg.Response {
	return httpmsg.NewResponse(code).WithBody(errpage.ContentType, r.pages.Load(ctx, code))
}

// ExtractPort returns the port following the last ':' of a Host header
// value, DefaultPort when there is none and 0 when it is not a number.
func ExtractPort(host string) int {
	i := strings.LastIndexByte(host, ':')
	if i < 0 || strings.HasSuffix(host, "]") {
		return DefaultPort
	}
	port, err := strconv.Atoi(host[i+1:])
	if err != nil {
		return 0
	}
	return port
}

// CleanPath joins the segments of uri onto root, dropping empty, "." and
// ".." segments so the result never leaves root.
func CleanPath(root, uri string) string {
	segs := strings.Split(uri, "/")
	kept := make([]string, 0, len(segs))
	for _, s := range segs {
		switch s {
		case "", ".", "..":
			continue
		}
		kept = append(kept, s)
	}
	return strings.TrimSuffix(root, "/") + "/" + strings.Join(kept, "/")
}
