// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"fmt"

	"github.com/z5labs/webserv/config/key"
)

// UnknownKeyerError occurs when a Source sets a value with a key.Keyer
// implementation the store does not understand.
type UnknownKeyerError struct {
	key key.Keyer
}

// Error implements the error interface.
func (e UnknownKeyerError) Error() string {
	return fmt.Sprintf("config source tried setting config value with unknown key.Keyer: %s", e.key.Key())
}

// EmptyKeyChainError occurs when a value is set with a zero length key.Chain.
type EmptyKeyChainError struct {
	Value any
}

// Error implements the error interface.
func (e EmptyKeyChainError) Error() string {
	return fmt.Sprintf("attempted to set value to an empty key chain: %v", e.Value)
}

// UnexpectedKeyValueTypeError occurs when a key chain descends into a
// key which already holds a non-map value, e.g. setting "log.level.name"
// after "log.level" was set to "info".
type UnexpectedKeyValueTypeError struct {
	Key          string
	ExpectedType string
}

// Error implements the error interface.
func (e UnexpectedKeyValueTypeError) Error() string {
	return fmt.Sprintf("expected key value to be a %s: %s", e.ExpectedType, e.Key)
}

// tree is the nested map every Source writes into. Leaves are whatever the
// Source set; inner nodes are always map[string]any.
type tree map[string]any

func (t tree) Set(k key.Keyer, v any) error {
	path, err := flatten(nil, k)
	if err != nil {
		return err
	}
	if len(path) == 0 {
		return EmptyKeyChainError{Value: v}
	}

	node := map[string]any(t)
	for _, name := range path[:len(path)-1] {
		child, ok := node[name]
		if !ok {
			child = make(map[string]any)
			node[name] = child
		}

		next, ok := child.(map[string]any)
		if !ok {
			return UnexpectedKeyValueTypeError{
				Key:          name,
				ExpectedType: "map[string]any",
			}
		}
		node = next
	}
	node[path[len(path)-1]] = v
	return nil
}

// flatten appends the names making up k to path. Chains may nest.
func flatten(path []string, k key.Keyer) ([]string, error) {
	switch x := k.(type) {
	case key.Name:
		return append(path, string(x)), nil
	case key.Chain:
		var err error
		for _, link := range x {
			path, err = flatten(path, link)
			if err != nil {
				return nil, err
			}
		}
		return path, nil
	default:
		return nil, UnknownKeyerError{key: k}
	}
}
