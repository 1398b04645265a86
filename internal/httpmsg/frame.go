// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package httpmsg

import (
	"bytes"
	"errors"
	"math"
	"strconv"
	"strings"
)

// ErrIncomplete is returned by Frame when more bytes are needed.
var ErrIncomplete = errors.New("httpmsg: incomplete request")

// ErrRequestTooLarge is returned by Frame when a request cannot fit in the
// configured limit.
var ErrRequestTooLarge = errors.New("httpmsg: request too large")

// MalformedRequestError is returned by Frame when the header block can not
// be framed.
type MalformedRequestError struct {
	Reason string
}

// Error implements the [builtin.error] interface.
func (e MalformedRequestError) Error() string {
	return "httpmsg: malformed request: " + e.Reason
}

// Frame reports the length of the first complete request in b. A request
// is complete once its header block has ended, with "\r\n\r\n" or "\n\n",
// and Content-Length body bytes follow it. A missing Content-Length means
// no body. A limit of zero or less disables the size check.
func Frame(b []byte, limit int) (int, error) {
	end := headerEnd(b)
	if end < 0 {
		if limit > 0 && len(b) > limit {
			return 0, ErrRequestTooLarge
		}
		return 0, ErrIncomplete
	}

	n, err := contentLength(b[:end])
	if err != nil {
		return 0, err
	}

	// compared before adding so a huge Content-Length can not overflow
	if n > math.MaxInt-end || (limit > 0 && n > limit-end) {
		return 0, ErrRequestTooLarge
	}
	total := end + n
	if len(b) < total {
		return 0, ErrIncomplete
	}
	return total, nil
}

func headerEnd(b []byte) int {
	end := -1
	if i := bytes.Index(b, []byte("\r\n\r\n")); i >= 0 {
		end = i + 4
	}
	if i := bytes.Index(b, []byte("\n\n")); i >= 0 && (end < 0 || i+2 < end) {
		end = i + 2
	}
	return end
}

func contentLength(block []byte) (int, error) {
	// skip the request line
	_, rest, _ := cutLine(block)

	var (
		n     int
		found bool
	)
	for len(rest) > 0 {
		var line string
		line, rest, _ = cutLine(rest)
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		switch {
		case strings.EqualFold(name, "Transfer-Encoding"):
			return 0, MalformedRequestError{Reason: "transfer-encoding is not supported"}
		case strings.EqualFold(name, HeaderContentLength):
			v, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || v < 0 {
				return 0, MalformedRequestError{Reason: "invalid content-length: " + strconv.Quote(value)}
			}
			if found && v != n {
				return 0, MalformedRequestError{Reason: "conflicting content-length values"}
			}
			n, found = v, true
		}
	}
	return n, nil
}
