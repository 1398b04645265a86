// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package httpmsg implements the HTTP/1.1 message model along with a
// lenient parser, a serializer and the framing rules used to carve
// complete requests out of a connection's read buffer.
package httpmsg

import (
	"bytes"
	"strings"
)

// Common header names.
const (
	HeaderConnection    = "Connection"
	HeaderContentLength = "Content-Length"
	HeaderContentType   = "Content-Type"
	HeaderHost          = "Host"
	HeaderAllow         = "Allow"
)

// FormContentType is the only content type whose body is decoded into form data.
const FormContentType = "application/x-www-form-urlencoded"

// head splits a message into its start line, header fields and body.
// Lines end in "\n" with an optional preceding "\r". Header lines without
// ": " are ignored. The body is everything after the first blank line, or
// nothing when there is no blank line.
func head(b []byte) (start string, h Header, body []byte) {
	line, rest, found := cutLine(b)
	start = line
	if !found {
		return start, h, nil
	}

	for {
		line, rest, found = cutLine(rest)
		if line == "" {
			if found {
				body = rest
			}
			return start, h, body
		}

		name, value, ok := strings.Cut(line, ": ")
		if ok {
			h.Set(name, value)
		}
		if !found {
			return start, h, nil
		}
	}
}

func cutLine(b []byte) (line string, rest []byte, found bool) {
	before, after, found := bytes.Cut(b, []byte("\n"))
	before = bytes.TrimSuffix(before, []byte("\r"))
	return string(before), after, found
}

// mediaType returns the Content-Type value with any parameters removed.
func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.TrimSpace(mt)
}
