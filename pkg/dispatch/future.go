package dispatch

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/panjf2000/ants/v2"

	"github.com/pay-theory/aerokit/pkg/errors"
)

// Future is the pending result of a non-blocking call. Each future belongs
// to exactly one call; completing one never affects another.
type Future[T any] struct {
	id    string
	done  chan struct{}
	value T
	err   error
}

func newFuture[T any](id string) *Future[T] {
	return &Future[T]{id: id, done: make(chan struct{})}
}

func (f *Future[T]) complete(v T, err error) {
	f.value, f.err = v, err
	close(f.done)
}

// RequestID returns the id of the request behind the future, if any
func (f *Future[T]) RequestID() string {
	return f.id
}

// Done is closed once the result is ready
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await waits for the result. If ctx ends first Await returns its error; the
// call keeps running under its own deadline.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, errors.Newf(errors.ErrTimeout, "await: %v", ctx.Err())
		}
		return zero, ctx.Err()
	}
}

// Failed returns a future already completed with err
func Failed[T any](err error) *Future[T] {
	f := newFuture[T]("")
	var zero T
	f.complete(zero, err)
	return f
}

// Go runs fn on a dispatcher worker in non-blocking mode
func Go[T any](ctx context.Context, d *Dispatcher, fn func(context.Context) (T, error)) *Future[T] {
	return spawn(d, "", func() (T, error) { return fn(ctx) })
}

func spawn[T any](d *Dispatcher, id string, fn func() (T, error)) *Future[T] {
	f := newFuture[T](id)
	if d.closed.Load() {
		var zero T
		f.complete(zero, errors.ErrClientClosed)
		return f
	}

	err := d.workers.Submit(func() {
		var (
			v   T
			err error
		)
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("dispatch task panicked", "request_id", id, "panic", r)
				var zero T
				f.complete(zero, fmt.Errorf("dispatch task panicked: %v", r))
				return
			}
			f.complete(v, err)
		}()
		v, err = fn()
	})
	if err != nil {
		var zero T
		if stderrors.Is(err, ants.ErrPoolClosed) {
			err = errors.ErrClientClosed
		}
		f.complete(zero, err)
	}
	return f
}
