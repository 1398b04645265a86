// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package multipart extracts uploaded files from multipart/form-data bodies.
package multipart

import (
	"bytes"
	"strings"
)

// MediaType is the content type of an upload body.
const MediaType = "multipart/form-data"

// FilePart is one uploaded file.
type FilePart struct {
	FileName string
	Content  []byte
}

// IsMultipart reports whether contentType names a multipart/form-data body.
func IsMultipart(contentType string) bool {
	return strings.Contains(contentType, MediaType)
}

// Boundary returns the boundary token declared by contentType, or "" when
// there is none.
func Boundary(contentType string) string {
	_, after, found := strings.Cut(contentType, "boundary=")
	if !found {
		return ""
	}
	after, _, _ = strings.Cut(after, ";")
	return strings.Trim(strings.TrimSpace(after), `"`)
}

// Decode splits body on "--" + boundary and returns every part which
// carries a filename, in body order. Parts without a filename are plain
// form fields and are skipped. Bytes after the last delimiter, including
// the closing "--" marker, are ignored.
func Decode(body []byte, boundary string) []FilePart {
	if boundary == "" {
		return nil
	}

	delim := []byte("--" + boundary)
	var parts []FilePart
	for {
		start := bytes.Index(body, delim)
		if start < 0 {
			return parts
		}
		body = body[start+len(delim):]

		end := bytes.Index(body, delim)
		if end < 0 {
			return parts
		}

		part, ok := decodePart(body[:end])
		if ok {
			parts = append(parts, part)
		}
		body = body[end:]
	}
}

func decodePart(b []byte) (FilePart, bool) {
	b = trimLineEnd(b, true)

	var name string
	for {
		var line []byte
		var found bool
		line, b, found = bytes.Cut(b, []byte("\n"))
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 {
			break
		}
		if fn, ok := fileName(string(line)); ok {
			name = fn
		}
		if !found {
			b = nil
			break
		}
	}
	if name == "" {
		return FilePart{}, false
	}

	b = trimLineEnd(b, false)
	lines := bytes.Split(b, []byte("\n"))
	for i, line := range lines {
		lines[i] = bytes.TrimSuffix(line, []byte("\r"))
	}
	return FilePart{
		FileName: name,
		Content:  bytes.Join(lines, []byte("\n")),
	}, true
}

// trimLineEnd removes one line terminator from the start or the end of b.
func trimLineEnd(b []byte, leading bool) []byte {
	if leading {
		if bytes.HasPrefix(b, []byte("\r\n")) {
			return b[2:]
		}
		return bytes.TrimPrefix(b, []byte("\n"))
	}
	if bytes.HasSuffix(b, []byte("\r\n")) {
		return b[:len(b)-2]
	}
	return bytes.TrimSuffix(b, []byte("\n"))
}

func fileName(line string) (string, bool) {
	name, value, ok := strings.Cut(line, ":")
	if !ok || !strings.EqualFold(strings.TrimSpace(name), "Content-Disposition") {
		return "", false
	}
	_, after, ok := strings.Cut(value, `filename="`)
	if !ok {
		return "", false
	}
	fn, _, ok := strings.Cut(after, `"`)
	if !ok || fn == "" {
		return "", false
	}
	return fn, true
}
