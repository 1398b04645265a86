// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package cgi

import (
	"strings"
)

// Rule routes URIs containing Extension to the Handler interpreter. An
// empty Handler means the script is executed directly.
type Rule struct {
	Extension string `config:"extension"`
	Handler   string `config:"handler"`
}

// Rules are matched in order.
type Rules []Rule

// Match returns the first rule whose extension occurs in the path part of uri.
func (rs Rules) Match(uri string) (Rule, bool) {
	p := path(uri)
	for _, r := range rs {
		if r.Extension == "" {
			continue
		}
		if strings.Contains(p, r.Extension) {
			return r, true
		}
	}
	return Rule{}, false
}

// ScriptName is the path part of uri relative to the script directory.
// Empty, "." and ".." segments are dropped so it never leaves that directory.
func ScriptName(uri string) string {
	segs := strings.Split(path(uri), "/")
	kept := segs[:0]
	for _, s := range segs {
		switch s {
		case "", ".", "..":
			continue
		}
		kept = append(kept, s)
	}
	return strings.Join(kept, "/")
}

// QueryString is the part of uri after the first '?'.
func QueryString(uri string) string {
	_, q, _ := strings.Cut(uri, "?")
	return q
}

func path(uri string) string {
	p, _, _ := strings.Cut(uri, "?")
	return p
}
