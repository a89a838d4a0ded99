// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"

	"github.com/orcadb/godriver/readpref"
)

// Future is a task-returning handle over a goroutine-and-done-channel pair,
// the asynchronous facade spec.md §5 requires alongside the ordinary
// blocking API: "Application callers see an ordinary blocking API on the
// synchronous facade and a task-returning API on the asynchronous facade;
// both are thin over the same core."
type Future[T any] struct {
	done   chan struct{}
	result T
	err    error
}

// goAsync starts fn in its own goroutine and returns a Future that resolves
// once fn returns.
func goAsync[T any](fn func() (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.result, f.err = fn()
	}()
	return f
}

// Wait blocks until the Future resolves or ctx is done, whichever comes
// first. A ctx cancellation does not stop the underlying goroutine — it
// merely stops this particular caller from waiting on it further, matching
// the teacher's own "Connect does not do I/O in the main goroutine"
// fire-and-forget style for background work.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done reports whether the Future has already resolved, without blocking.
func (f *Future[T]) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// PingAsync is the asynchronous-facade counterpart to Client.Ping: it
// returns immediately with a Future the caller can Wait on at its own
// pace, rather than blocking the calling goroutine for the duration of
// server selection and checkout.
func (c *Client) PingAsync(ctx context.Context, rp *readpref.ReadPref) *Future[struct{}] {
	return goAsync(func() (struct{}, error) {
		return struct{}{}, c.Ping(ctx, rp)
	})
}
