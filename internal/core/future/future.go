// Package future provides single-assignment asynchronous results.
//
// A Promise is completed exactly once by its producer; the matching Future is
// read by any number of consumers. Continuations registered through Then are
// re-entered through an Executor so that no consumer assumes it resumes on the
// goroutine that completed the value.
package future

import (
	"context"
	"fmt"
	"sync"
)

// Executor runs tasks asynchronously. The scheduler implements it.
type Executor interface {
	Schedule(task func())
}

// Future is the read side of an asynchronous result.
type Future[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	completed bool
	val       T
	err       error
	callbacks []func(T, error)
}

// Promise is the write side of an asynchronous result.
type Promise[T any] struct {
	f *Future[T]
}

// NewPromise creates an incomplete promise.
func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{f: &Future[T]{done: make(chan struct{})}}
}

// Ready returns a future already resolved with v.
func Ready[T any](v T) *Future[T] {
	p := NewPromise[T]()
	p.Resolve(v)
	return p.f
}

// Failed returns a future already rejected with err.
func Failed[T any](err error) *Future[T] {
	p := NewPromise[T]()
	p.Reject(err)
	return p.f
}

// Future returns the read side of the promise.
func (p *Promise[T]) Future() *Future[T] {
	return p.f
}

// Resolve completes the promise with a value. Reports false if it was already
// completed.
func (p *Promise[T]) Resolve(v T) bool {
	return p.f.complete(v, nil)
}

// Reject completes the promise with an error. Reports false if it was already
// completed.
func (p *Promise[T]) Reject(err error) bool {
	var zero T
	return p.f.complete(zero, err)
}

// Complete resolves or rejects depending on err.
func (p *Promise[T]) Complete(v T, err error) bool {
	if err != nil {
		return p.Reject(err)
	}
	return p.Resolve(v)
}

func (f *Future[T]) complete(v T, err error) bool {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return false
	}
	f.completed = true
	f.val = v
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(v, err)
	}
	return true
}

// Done is closed once the future completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsReady reports whether the future has completed.
func (f *Future[T]) IsReady() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the value and error. It must only be called after Done is
// closed; before that it returns the zero value and ErrNotReady.
func (f *Future[T]) Result() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.completed {
		var zero T
		return zero, ErrNotReady
	}
	return f.val, f.err
}

// Await blocks until the future completes or ctx is done. Cancelling ctx does
// not cancel the underlying operation.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// OnComplete registers cb to run with the outcome. If the future is already
// complete cb runs immediately on the calling goroutine, otherwise on the
// goroutine that completes it.
func (f *Future[T]) OnComplete(cb func(T, error)) {
	f.mu.Lock()
	if !f.completed {
		f.callbacks = append(f.callbacks, cb)
		f.mu.Unlock()
		return
	}
	v, err := f.val, f.err
	f.mu.Unlock()
	cb(v, err)
}

// Then schedules fn on exec once f completes.
func Then[T any](exec Executor, f *Future[T], fn func(T, error)) {
	f.OnComplete(func(v T, err error) {
		exec.Schedule(func() { fn(v, err) })
	})
}

// Map returns a future completed with fn applied to f's value on exec.
// Errors pass through unchanged. A panic in fn rejects the result with
// ErrContinuationPanic.
func Map[T, U any](exec Executor, f *Future[T], fn func(T) (U, error)) *Future[U] {
	p := NewPromise[U]()
	Then(exec, f, func(v T, err error) {
		if err != nil {
			p.Reject(err)
			return
		}
		defer rejectOnPanic(p)
		p.Complete(fn(v))
	})
	return p.Future()
}

// Go runs fn on a new goroutine and returns its outcome as a future. It is
// meant for blocking I/O that must not occupy a scheduler worker.
func Go[T any](fn func() (T, error)) *Future[T] {
	p := NewPromise[T]()
	go func() {
		defer rejectOnPanic(p)
		p.Complete(fn())
	}()
	return p.Future()
}

// rejectOnPanic must be deferred directly by the goroutine running user code.
func rejectOnPanic[T any](p *Promise[T]) {
	if rec := recover(); rec != nil {
		p.Reject(fmt.Errorf("%w: %v", ErrContinuationPanic, rec))
	}
}

// All completes with every value of fs in order, or with the first error
// observed. Continuations run on exec.
func All[T any](exec Executor, fs []*Future[T]) *Future[[]T] {
	p := NewPromise[[]T]()
	if len(fs) == 0 {
		p.Resolve(nil)
		return p.Future()
	}

	var (
		mu        sync.Mutex
		remaining = len(fs)
		out       = make([]T, len(fs))
	)
	for i, f := range fs {
		i := i
		Then(exec, f, func(v T, err error) {
			defer rejectOnPanic(p)
			if err != nil {
				p.Reject(err)
				return
			}
			mu.Lock()
			out[i] = v
			remaining--
			done := remaining == 0
			mu.Unlock()
			if done {
				p.Resolve(out)
			}
		})
	}
	return p.Future()
}
