// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ThreadPool is the half-sync side of the server: a fixed set of workers
// draining a bounded FIFO of tasks submitted by the reactor.

package concurrency

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-httpd/api"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ThreadPool runs tasks on a fixed number of worker goroutines.
type ThreadPool struct {
	mu       sync.Mutex
	queue    *queue.Queue // of api.Task, guarded by mu
	capacity int
	closing  bool

	// items counts queued tasks plus one wake-up per worker at shutdown.
	// It starts fully acquired so each Release is one post.
	items   *semaphore.Weighted
	workers int
	group   errgroup.Group
	done    chan struct{}
	once    sync.Once
	log     *slog.Logger

	submitted atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64
}

var _ api.Executor = (*ThreadPool)(nil)

// NewThreadPool starts workers goroutines over a queue holding at most
// maxRequests tasks.
func NewThreadPool(workers, maxRequests int, logger *slog.Logger) (*ThreadPool, error) {
	if workers <= 0 || maxRequests <= 0 {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "thread pool size").
			WithContext("workers", workers).
			WithContext("max_requests", maxRequests).
			Wrap(api.ErrInvalidArgument)
	}
	if logger == nil {
		logger = slog.Default()
	}
	total := int64(maxRequests + workers)
	items := semaphore.NewWeighted(total)
	if !items.TryAcquire(total) {
		return nil, fmt.Errorf("thread pool: semaphore init failed")
	}
	p := &ThreadPool{
		queue:    queue.New(),
		capacity: maxRequests,
		items:    items,
		workers:  workers,
		done:     make(chan struct{}),
		log:      logger.With("component", "pool"),
	}
	for i := 0; i < workers; i++ {
		id := i
		p.group.Go(func() error {
			p.run(id)
			return nil
		})
	}
	p.log.Debug("thread pool started", "workers", workers, "max_requests", maxRequests)
	return p, nil
}

// Submit appends task to the queue and wakes one worker.
func (p *ThreadPool) Submit(task api.Task) error {
	if task == nil {
		return api.ErrInvalidArgument
	}
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		p.rejected.Add(1)
		return api.ErrPoolClosed
	}
	if p.queue.Length() >= p.capacity {
		p.mu.Unlock()
		p.rejected.Add(1)
		return api.ErrQueueFull
	}
	p.queue.Add(task)
	p.mu.Unlock()

	p.submitted.Add(1)
	p.items.Release(1)
	return nil
}

// NumWorkers returns the fixed number of workers.
func (p *ThreadPool) NumWorkers() int { return p.workers }

// Capacity returns the maximum number of queued tasks.
func (p *ThreadPool) Capacity() int { return p.capacity }

// Pending returns the number of queued, not yet started tasks.
func (p *ThreadPool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Length()
}

// Shutdown stops accepting tasks, lets the workers drain the queue and waits
// for all of them to exit.
func (p *ThreadPool) Shutdown(ctx context.Context) error {
	p.once.Do(func() {
		p.mu.Lock()
		p.closing = true
		pending := p.queue.Length()
		p.mu.Unlock()

		p.log.Debug("thread pool draining", "pending", pending)
		p.items.Release(int64(p.workers))
		go func() {
			_ = p.group.Wait()
			close(p.done)
		}()
	})
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns basic pool metrics.
func (p *ThreadPool) Stats() api.PoolStats {
	return api.PoolStats{
		Workers:   p.workers,
		Capacity:  p.capacity,
		Pending:   p.Pending(),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

func (p *ThreadPool) run(id int) {
	for {
		if err := p.items.Acquire(context.Background(), 1); err != nil {
			return
		}
		p.mu.Lock()
		if p.queue.Length() == 0 {
			closing := p.closing
			p.mu.Unlock()
			if closing {
				p.log.Debug("worker exiting", "worker", id)
				return
			}
			continue
		}
		task := p.queue.Remove().(api.Task)
		p.mu.Unlock()

		p.execute(id, task)
	}
}

// execute runs the task, recovering from panics to keep the worker alive.
func (p *ThreadPool) execute(id int, task api.Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("task panicked", "worker", id, "panic", r)
		}
		p.completed.Add(1)
	}()
	task.Process()
}
