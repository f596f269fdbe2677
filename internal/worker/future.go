package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/srg/medlink/internal/device"
	"github.com/srg/medlink/internal/groutine"
)

// Future is a one-shot result handoff. The first Resolve wins; later calls
// are ignored.
type Future[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolve stores the result and wakes every waiter. It reports whether this
// call was the one that resolved the future.
func (f *Future[T]) Resolve(v T, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.val, f.err = v, err
		close(f.done)
		resolved = true
	})
	return resolved
}

func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future resolves, ctx is cancelled, or timeout
// elapses. A non-positive timeout waits on ctx alone.
func (f *Future[T]) Await(ctx context.Context, timeout time.Duration) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		if ctx.Err() == context.DeadlineExceeded {
			return zero, fmt.Errorf("%w: after %s", device.ErrTimeout, timeout)
		}
		return zero, ctx.Err()
	}
}

// Acquire runs open on a named goroutine and waits up to timeout for it.
// If open is still running at the deadline its eventual result is discarded
// and ErrTimeout is returned. No locks are held while waiting.
func Acquire[T any](ctx context.Context, name string, timeout time.Duration, open func() (T, error)) (T, error) {
	f := NewFuture[T]()
	groutine.Go(ctx, name, func(context.Context) {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				f.Resolve(zero, fmt.Errorf("%s panicked: %v", name, r))
			}
		}()
		f.Resolve(open())
	})
	return f.Await(ctx, timeout)
}
