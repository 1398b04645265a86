// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package httpmsg

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
)

// Version is the protocol version written on every response.
const Version = "HTTP/1.1"

// Response is an HTTP response. The With methods return modified copies.
type Response struct {
	Version       string
	StatusCode    int
	StatusMessage string

	header Header
	body   []byte
}

// NewResponse returns an empty response with the standard reason phrase
// for code.
func NewResponse(code int) Response {
	return Response{
		Version:       Version,
		StatusCode:    code,
		StatusMessage: http.StatusText(code),
	}
}

// WithHeader returns a copy of r with the header set.
func (r Response) WithHeader(name, value string) Response {
	r.header = r.header.Clone()
	r.header.Set(name, value)
	return r
}

// WithoutHeader returns a copy of r without the named header.
func (r Response) WithoutHeader(name string) Response {
	r.header = r.header.Clone()
	r.header.Del(name)
	return r
}

// WithBody returns a copy of r carrying body. Content-Length always matches
// the body and Content-Type is set when contentType is not empty.
func (r Response) WithBody(contentType string, body []byte) Response {
	r.header = r.header.Clone()
	r.body = bytes.Clone(body)
	if contentType != "" {
		r.header.Set(HeaderContentType, contentType)
	}
	r.header.Set(HeaderContentLength, strconv.Itoa(len(r.body)))
	return r
}

// Header returns a copy of the response headers.
func (r Response) Header() Header {
	return r.header.Clone()
}

// HeaderValue returns the value of the named header or "".
func (r Response) HeaderValue(name string) string {
	return r.header.Value(name)
}

// Body returns a copy of the response body.
func (r Response) Body() []byte {
	return bytes.Clone(r.body)
}

// Serialize renders r as "<version> <code> <message>\r\n", the headers in
// insertion order, a blank line and the body.
func Serialize(r Response) []byte {
	var buf bytes.Buffer
	buf.Grow(64 + len(r.body))
	buf.WriteString(r.Version)
	buf.WriteByte(' ')
	buf.WriteString(strconv.Itoa(r.StatusCode))
	buf.WriteByte(' ')
	buf.WriteString(r.StatusMessage)
	buf.WriteString("\r\n")
	writeHeader(&buf, r.header)
	buf.Write(r.body)
	return buf.Bytes()
}

// ParseResponse is the lenient inverse of Serialize. An unparsable status
// code is reported as 0.
func ParseResponse(b []byte) Response {
	start, h, body := head(b)

	version, rest, _ := strings.Cut(start, " ")
	code, message, _ := strings.Cut(rest, " ")
	status, err := strconv.Atoi(code)
	if err != nil {
		status = 0
	}
	return Response{
		Version:       version,
		StatusCode:    status,
		StatusMessage: message,
		header:        h,
		body:          bytes.Clone(body),
	}
}
