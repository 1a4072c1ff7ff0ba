// Package async provides the small concurrency primitives the execution
// engine is built on: a fixed-size worker pool and a single-assignment,
// context-aware future.
package async

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrPoolClosed indicates a task submitted after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// Pool is a fixed-size worker pool over a bounded task queue. Submit blocks
// when the queue is full, providing backpressure instead of unbounded
// goroutine growth. Workers survive panicking tasks.
//
// The engine runs two disjoint pools (backend calls vs. compute) so compute
// work that waits on further call futures can never be queued behind the
// very call tasks it depends on.
type Pool struct {
	name   string
	tasks  chan func()
	wg     sync.WaitGroup
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewPool starts a pool of the given worker count with a bounded queue.
// Workers and queue depth below one are raised to one. A nil logger falls
// back to slog.Default.
func NewPool(name string, workers, queueDepth int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		name:   name,
		tasks:  make(chan func(), queueDepth),
		logger: logger.With("component", "pool", "pool", name),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

// run executes one task, containing panics so a misbehaving task cannot
// kill the worker.
func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", "panic", fmt.Sprintf("%v", r))
		}
	}()
	task()
}

// Submit enqueues a task, blocking while the queue is full.
// Returns ErrPoolClosed after Close.
func (p *Pool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("%w: %s", ErrPoolClosed, p.name)
	}
	p.tasks <- task
	return nil
}

// Close stops intake, drains queued tasks, and waits for the workers to
// exit. Idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}
