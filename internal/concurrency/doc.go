// Package concurrency holds the two pieces of machinery that sit between the
// reactor and request processing: a bounded FIFO worker pool and an
// array-backed min-heap of idle deadlines.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package concurrency
