// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package lifecycle collects the work components register while the server
// is being built and runs it once the server has stopped.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
)

// Hook is work performed after the server stops.
type Hook interface {
	Run(context.Context) error
}

// HookFunc is a func variant of the [Hook] interface.
type HookFunc func(context.Context) error

// Run implements the [Hook] interface.
func (f HookFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// HookError is returned for every post-run hook which failed.
type HookError struct {
	Name  string
	Cause error
}

// Error implements the error interface.
func (e HookError) Error() string {
	return fmt.Sprintf("post-run hook %s failed: %s", e.Name, e.Cause)
}

// Unwrap implements the implicit interface used by errors.Is and errors.As.
func (e HookError) Unwrap() error {
	return e.Cause
}

type namedHook struct {
	name string
	hook Hook
}

// Context collects post-run hooks. The zero value is ready to use.
type Context struct {
	postRuns []namedHook
}

// OnPostRun registers hook to run once the server's Run method returns,
// whether or not it returned an error.
func (c *Context) OnPostRun(name string, hook Hook) {
	c.postRuns = append(c.postRuns, namedHook{name: name, hook: hook})
}

// PostRun runs the registered hooks in reverse order of registration, so
// components shut down before whatever they were built on. Every hook runs
// even if an earlier one fails.
func (c *Context) PostRun(ctx context.Context) error {
	var errs []error
	for i := len(c.postRuns) - 1; i >= 0; i-- {
		h := c.postRuns[i]
		err := h.hook.Run(ctx)
		if err != nil {
			errs = append(errs, HookError{Name: h.name, Cause: err})
		}
	}
	return errors.Join(errs...)
}

type contextKey struct{}

// NewContext returns a copy of parent carrying c.
func NewContext(parent context.Context, c *Context) context.Context {
	return context.WithValue(parent, contextKey{}, c)
}

// FromContext returns the [Context] carried by ctx, if any.
func FromContext(ctx context.Context) (*Context, bool) {
	lc, ok := ctx.Value(contextKey{}).(*Context)
	return lc, ok
}
