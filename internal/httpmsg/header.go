// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package httpmsg

import "slices"

// Field is a single header line.
type Field struct {
	Name  string
	Value string
}

// Header is an ordered set of header fields. Names are case-sensitive and
// setting an existing name overwrites its value in place, so iteration
// order is the order in which names were first set.
type Header struct {
	fields []Field
}

// HeaderOf builds a Header from fields, applying last-write-wins to duplicates.
func HeaderOf(fields ...Field) Header {
	var h Header
	for _, f := range fields {
		h.Set(f.Name, f.Value)
	}
	return h
}

// Get returns the value for name and whether it was present.
func (h Header) Get(name string) (string, bool) {
	for _, f := range h.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Value returns the value for name or the empty string.
func (h Header) Value(name string) string {
	v, _ := h.Get(name)
	return v
}

// Set assigns value to name.
func (h *Header) Set(name, value string) {
	for i, f := range h.fields {
		if f.Name == name {
			h.fields[i].Value = value
			return
		}
	}
	h.fields = append(h.fields, Field{Name: name, Value: value})
}

// Del removes name if present.
func (h *Header) Del(name string) {
	h.fields = slices.DeleteFunc(h.fields, func(f Field) bool {
		return f.Name == name
	})
}

// Len returns the number of distinct header names.
func (h Header) Len() int {
	return len(h.fields)
}

// Fields returns a copy of the fields in insertion order.
func (h Header) Fields() []Field {
	return slices.Clone(h.fields)
}

// Clone returns a deep copy of h.
func (h Header) Clone() Header {
	return Header{fields: slices.Clone(h.fields)}
}
