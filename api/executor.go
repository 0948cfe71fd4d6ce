// Package api
// Author: momentics
//
// Executor contract for the half-sync/half-async request pipeline.

package api

import "context"

// Task is a unit of work handed from the reactor to a worker.
// The executor holds a reference only; the task keeps its own state.
type Task interface {
	Process()
}

// TaskFunc adapts a plain function to Task.
type TaskFunc func()

// Process calls f.
func (f TaskFunc) Process() { f() }

// Executor abstracts a bounded worker pool.
type Executor interface {
	// Submit enqueues task without blocking. It fails with ErrQueueFull when the
	// queue is at capacity and ErrPoolClosed once shutdown has begun.
	Submit(task Task) error

	// NumWorkers returns the fixed number of worker routines.
	NumWorkers() int

	// Shutdown stops accepting work, drains queued tasks and joins all workers.
	Shutdown(ctx context.Context) error
}
