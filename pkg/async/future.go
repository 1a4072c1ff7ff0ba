package async

import (
	"context"
	"sync"
)

// Future is a single-assignment result observed through a channel. Complete
// may be called any number of times; only the first assignment wins. Wait
// never blocks a pool worker: the goroutine that owns the join barrier
// completes the future, and any number of observers wait on it.
type Future[T any] struct {
	done chan struct{}
	once sync.Once

	value T
	err   error
}

// NewFuture creates an incomplete future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Complete assigns the future's result. Later calls are no-ops.
func (f *Future[T]) Complete(value T, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

// Wait blocks until the future completes or the context is done, whichever
// comes first. A context expiry returns the context's error and the zero
// value; the future itself may still complete later for other observers.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done returns a channel closed on completion, for select-based observers.
func (f *Future[T]) Done() <-chan struct{} { return f.done }
