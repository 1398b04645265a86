// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package router

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"strings"

	"github.com/z5labs/webserv/internal/httpmsg"
	"github.com/z5labs/webserv/pkg/slogfield"
)

func (r *Router) serveDelete(ctx context.Context, req httpmsg.Request) httpmsg.Response {
	p := CleanPath(r.deletableRoot, req.Path())
	if strings.HasSuffix(p, "/") {
		// the root itself is never deletable
		return r.errorResponse(ctx, http.StatusNotFound)
	}

	_, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return r.errorResponse(ctx, http.StatusNotFound)
	}
	if err != nil {
		r.log.ErrorContext(ctx, "failed to stat file", slogfield.String("path", p), slogfield.Error(err))
		return r.errorResponse(ctx, http.StatusInternalServerError)
	}

	err = os.Remove(p)
	if err != nil {
		r.log.ErrorContext(ctx, "failed to delete file", slogfield.String("path", p), slogfield.Error(err))
		return r.errorResponse(ctx, http.StatusInternalServerError)
	}
	r.log.InfoContext(ctx, "deleted file", slogfield.String("path", p))
	return httpmsg.NewResponse(http.StatusNoContent)
}
