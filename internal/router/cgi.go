// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package router

import (
	"context"
	"errors"
	"net/http"

	"github.com/z5labs/webserv/internal/cgi"
	"github.com/z5labs/webserv/internal/httpmsg"
	"github.com/z5labs/webserv/pkg/slogfield"
)

func (r *Router) serveCGI(ctx context.Context, rule cgi.Rule, req httpmsg.Request) httpmsg.Response {
	out, err := r.scripts.Run(ctx, rule, req)
	if errors.Is(err, cgi.ErrCircuitOpen) {
		r.log.WarnContext(ctx, "cgi is unavailable", slogfield.URI(req.URI), slogfield.Error(err))
		return r.errorResponse(ctx, http.StatusServiceUnavailable)
	}
	var ferr cgi.ForbiddenScriptError
	if errors.As(err, &ferr) {
		r.log.WarnContext(ctx, "refusing to run cgi script", slogfield.URI(req.URI), slogfield.Error(err))
		return r.errorResponse(ctx, http.StatusForbidden)
	}
	if err != nil {
		r.log.ErrorContext(ctx, "cgi script failed", slogfield.URI(req.URI), slogfield.Error(err))
		return r.errorResponse(ctx, http.StatusInternalServerError)
	}
	return httpmsg.NewResponse(http.StatusOK).WithBody("text/html", out)
}
