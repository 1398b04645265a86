// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package httpmsg

import (
	"bytes"
	"maps"
	"strings"
)

// Request is an immutable HTTP request. Accessors return copies so callers
// cannot mutate a Request shared with other handlers.
type Request struct {
	Method  string
	URI     string
	Version string

	header Header
	body   []byte
	form   map[string]string
}

// NewRequest builds a Request. When the Content-Type header names the
// urlencoded form media type the body is decoded into form data.
func NewRequest(method, uri, version string, h Header, body []byte) Request {
	req := Request{
		Method:  method,
		URI:     uri,
		Version: version,
		header:  h.Clone(),
		body:    bytes.Clone(body),
		form:    map[string]string{},
	}
	if strings.EqualFold(mediaType(h.Value(HeaderContentType)), FormContentType) {
		req.form = ParseForm(string(body))
	}
	return req
}

// Parse decodes raw request bytes. It never fails; missing parts of the
// request line are left empty and it is up to the caller to reject them.
func Parse(b []byte) Request {
	start, h, body := head(b)

	var method, uri, version string
	parts := strings.Fields(start)
	if len(parts) > 0 {
		method = parts[0]
	}
	if len(parts) > 1 {
		uri = parts[1]
	}
	if len(parts) > 2 {
		version = parts[2]
	}
	return NewRequest(method, uri, version, h, body)
}

// Header returns a copy of the request headers.
func (r Request) Header() Header {
	return r.header.Clone()
}

// HeaderValue returns the value of the named header or "".
func (r Request) HeaderValue(name string) string {
	return r.header.Value(name)
}

// Body returns a copy of the request body.
func (r Request) Body() []byte {
	return bytes.Clone(r.body)
}

// FormData returns a copy of the decoded form fields.
func (r Request) FormData() map[string]string {
	return maps.Clone(r.form)
}

// Path is the URI without its query string.
func (r Request) Path() string {
	p, _, _ := strings.Cut(r.URI, "?")
	return p
}

// Query is the part of the URI after the first '?'.
func (r Request) Query() string {
	_, q, _ := strings.Cut(r.URI, "?")
	return q
}

// KeepAlive reports whether the client asked for the connection to be reused.
func (r Request) KeepAlive() bool {
	return r.header.Value(HeaderConnection) == "keep-alive"
}

// Bytes serializes the request, writing headers in insertion order.
func (r Request) Bytes() []byte {
	var buf bytes.Buffer
	buf.WriteString(r.Method)
	buf.WriteByte(' ')
	buf.WriteString(r.URI)
	buf.WriteByte(' ')
	buf.WriteString(r.Version)
	buf.WriteString("\r\n")
	writeHeader(&buf, r.header)
	buf.Write(r.body)
	return buf.Bytes()
}

func writeHeader(buf *bytes.Buffer, h Header) {
	for _, f := range h.fields {
		buf.WriteString(f.Name)
		buf.WriteString(": ")
		buf.WriteString(f.Value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
}
