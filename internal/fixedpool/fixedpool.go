// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package fixedpool runs a fixed set of long lived tasks side by side.
package fixedpool

import (
	"context"
	"errors"
	"sync"

	"github.com/z5labs/webserv/internal/try"
)

// Task is one long lived unit of work, e.g. the event loop or the worker pool.
type Task func(context.Context) error

// Wait runs every task on its own goroutine and blocks until all of them return.
// The first failure cancels the context seen by the remaining tasks. Failures,
// including recovered panics, are joined in task order.
func Wait(ctx context.Context, tasks ...Task) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	errs := make([]error, len(tasks))

	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, t Task) {
			defer wg.Done()

			err := run(ctx, t)
			if err == nil {
				return
			}
			errs[i] = err
			cancel(err)
		}(i, task)
	}
	wg.Wait()

	return errors.Join(errs...)
}

func run(ctx context.Context, t Task) (err error) {
	defer try.Recover(&err)
	return t(ctx)
}
