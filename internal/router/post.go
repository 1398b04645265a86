// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package router

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"slices"

	"github.com/z5labs/webserv/internal/httpmsg"
	"github.com/z5labs/webserv/internal/multipart"
	"github.com/z5labs/webserv/internal/try"
	"github.com/z5labs/webserv/pkg/slogfield"
)

// Bodies of successful POST responses.
var (
	UploadedBody = []byte("<html><body><h1>File(s) Uploaded Successfully</h1></body></html>")
	FormBody     = []byte("<html><body><h1>Success</h1><p>Your data was processed successfully.</p></body></html>")
)

func (r *Router) servePost(ctx context.Context, req httpmsg.Request) httpmsg.Response {
	ct := req.HeaderValue(httpmsg.HeaderContentType)
	if multipart.IsMultipart(ct) {
		return r.serveUpload(ctx, req, multipart.Boundary(ct))
	}
	return r.serveForm(ctx, req)
}

func (r *Router) serveUpload(ctx context.Context, req httpmsg.Request, boundary string) httpmsg.Response {
	if boundary == "" {
		r.log.WarnContext(ctx, "multipart request without boundary")
		return r.errorResponse(ctx, http.StatusBadRequest)
	}

	parts := multipart.Decode(req.Body(), boundary)
	for _, part := range parts {
		name := filepath.Base(part.FileName)
		if name == "." || name == ".." || name == string(filepath.Separator) {
			r.log.WarnContext(ctx, "skipping upload with invalid file name", slogfield.String("file_name", part.FileName))
			continue
		}

		p := filepath.Join(r.uploadsDir, name)
		err := os.WriteFile(p, part.Content, 0o644)
		if err != nil {
			r.log.ErrorContext(ctx, "failed to save upload", slogfield.String("path", p), slogfield.Error(err))
			return r.errorResponse(ctx, http.StatusInternalServerError)
		}
		r.log.InfoContext(ctx, "saved upload", slogfield.String("path", p), slogfield.Int("bytes", len(part.Content)))
	}
	return httpmsg.NewResponse(http.StatusOK).WithBody("text/html", UploadedBody)
}

func (r *Router) serveForm(ctx context.Context, req httpmsg.Request) httpmsg.Response {
	form := httpmsg.ParseForm(string(req.Body()))

	err := r.appendForm(form)
	if err != nil {
		r.log.ErrorContext(ctx, "failed to record form data", slogfield.String("path", r.formLog), slogfield.Error(err))
		return r.errorResponse(ctx, http.StatusBadRequest)
	}
	return httpmsg.NewResponse(http.StatusOK).WithBody("text/html", FormBody)
}

func (r *Router) appendForm(form map[string]string) (err error) {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteString(": ")
		buf.WriteString(form[k])
		buf.WriteByte('\n')
	}

	r.formMu.Lock()
	defer r.formMu.Unlock()

	f, err := os.OpenFile(r.formLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer try.Close(&err, f)

	_, err = f.Write(buf.Bytes())
	return err
}
