// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package router

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/z5labs/webserv/internal/httpmsg"
	"github.com/z5labs/webserv/internal/mimetype"
	"github.com/z5labs/webserv/pkg/slogfield"
)

func (r *Router) serveStatic(ctx context.Context, req httpmsg.Request) httpmsg.Response {
	port := ExtractPort(req.HeaderValue(httpmsg.HeaderHost))
	srv, ok := r.servers.Lookup(port)
	if !ok {
		r.log.ErrorContext(ctx, "no virtual server configured for port", slogfield.Port(port))
		return r.errorResponse(ctx, http.StatusInternalServerError)
	}

	p := StaticPath(srv.Root, req.Path(), srv.IndexFile())
	b, err := os.ReadFile(p)
	if err != nil {
		r.log.InfoContext(ctx, "failed to read static file", slogfield.String("path", p), slogfield.Error(err))
		return r.errorResponse(ctx, http.StatusNotFound)
	}
	return httpmsg.NewResponse(http.StatusOK).WithBody(mimetype.ForPath(p), b)
}

// StaticPath resolves uri against root. Directory requests get index
// appended.
func StaticPath(root, uri, index string) string {
	p := CleanPath(root, uri)
	if strings.HasSuffix(p, "/") {
		return p + index
	}
	if strings.HasSuffix(uri, "/") {
		return p + "/" + index
	}
	return p
}
