// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package httpmsg

import "strings"

// URLDecode replaces every "%XX" escape, where XX are two hex digits, with
// the byte it encodes. Any other byte, including a '%' without two hex
// digits after it, passes through unchanged.
func URLDecode(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}

	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			sb.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// FormDecode applies '+' to space substitution and then URLDecode.
func FormDecode(s string) string {
	return URLDecode(strings.ReplaceAll(s, "+", " "))
}

// ParseForm decodes an application/x-www-form-urlencoded body. Pairs are
// separated by '&' and pairs without '=' are skipped. Both keys and values
// are decoded with FormDecode; a repeated key keeps its last value.
func ParseForm(body string) map[string]string {
	form := make(map[string]string)
	for _, pair := range strings.Split(body, "&") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		form[FormDecode(k)] = FormDecode(v)
	}
	return form
}

func isHex(c byte) bool {
	switch {
	case '0' <= c && c <= '9':
		return true
	case 'a' <= c && c <= 'f':
		return true
	case 'A' <= c && c <= 'F':
		return true
	}
	return false
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
