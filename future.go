package depset

import (
	"context"
	"sync"
)

// Future is a promise that settles exactly once, either with a value or with
// an error. It is the handle through which callers attach to an asynchronous
// population already in flight: waiting is always explicit, via [Future.Get]
// or [Future.Done], and abandoning a Future does not cancel the computation
// that will settle it.
//
// Settling an already-settled Future panics; pending to settled is a one-way
// transition.
type Future[T any] struct {
	done chan struct{}

	mu      sync.Mutex
	settled bool
	val     T
	err     error
}

// NewFuture returns a pending Future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// CompletedFuture returns a Future already settled with v.
func CompletedFuture[T any](v T) *Future[T] {
	f := NewFuture[T]()
	f.Complete(v)
	return f
}

// FailedFuture returns a Future already settled with err.
func FailedFuture[T any](err error) *Future[T] {
	f := NewFuture[T]()
	f.Fail(err)
	return f
}

// Complete settles the future with a value. Panics if already settled.
func (f *Future[T]) Complete(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled {
		panic("depset: future settled twice")
	}
	f.val = v
	f.settled = true
	close(f.done)
}

// Fail settles the future with an error. Panics if already settled.
func (f *Future[T]) Fail(err error) {
	if err == nil {
		panic("depset: future failed with nil error")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled {
		panic("depset: future settled twice")
	}
	f.err = err
	f.settled = true
	close(f.done)
}

// Done returns a channel closed once the future has settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Resolved reports whether the future has settled, without blocking.
func (f *Future[T]) Resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Peek returns the settled value or error without blocking. resolved is
// false while the future is still pending.
func (f *Future[T]) Peek() (val T, err error, resolved bool) {
	select {
	case <-f.done:
		return f.val, f.err, true
	default:
		var zero T
		return zero, nil, false
	}
}

// Get waits for the future to settle and returns its outcome. If ctx is
// canceled first, Get returns the context error; the underlying computation
// keeps running and other waiters are unaffected.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
