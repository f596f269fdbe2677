// Package ringchan provides a bounded channel that drops the oldest element
// instead of blocking the producer.
package ringchan

import (
	"sync"
	"sync/atomic"
)

// Chan is a bounded overwrite-oldest channel. It lets a synchronous event
// listener hand values to a slower consumer without stalling the dispatcher.
//
//	rc := ringchan.New[bus.Event](256)
//	rc.Send(ev)          // never blocks
//	for ev := range rc.C() { ... }
type Chan[T any] struct {
	mu      sync.Mutex
	ch      chan T
	closed  bool
	metrics Metrics
}

// Metrics counts traffic through a Chan. Received only counts reads made via Receive.
type Metrics struct {
	Sent     int64
	Dropped  int64
	Received int64
}

// New creates a Chan with the given capacity. It panics on a non-positive capacity.
func New[T any](capacity int) *Chan[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &Chan[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. Reads through it bypass the Received counter.
func (c *Chan[T]) C() <-chan T {
	return c.ch
}

// Send inserts v, discarding the oldest element when full. It reports whether
// an element was dropped. Sending on a closed Chan is a no-op.
func (c *Chan[T]) Send(v T) (dropped bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}

	for {
		select {
		case c.ch <- v:
			atomic.AddInt64(&c.metrics.Sent, 1)
			return dropped
		default:
		}
		select {
		case <-c.ch:
			atomic.AddInt64(&c.metrics.Dropped, 1)
			dropped = true
		default:
		}
	}
}

// TrySend inserts v only if there is room.
func (c *Chan[T]) TrySend(v T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.ch <- v:
		atomic.AddInt64(&c.metrics.Sent, 1)
		return true
	default:
		return false
	}
}

// Receive blocks until a value is available or the Chan is closed and drained.
func (c *Chan[T]) Receive() (v T, ok bool) {
	v, ok = <-c.ch
	if ok {
		atomic.AddInt64(&c.metrics.Received, 1)
	}
	return
}

// TryReceive returns immediately with ok=false when nothing is buffered.
func (c *Chan[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-c.ch:
		if ok {
			atomic.AddInt64(&c.metrics.Received, 1)
		}
		return
	default:
		return v, false
	}
}

func (c *Chan[T]) Len() int { return len(c.ch) }

func (c *Chan[T]) Cap() int { return cap(c.ch) }

// Close closes the receive side. It is safe to call more than once.
func (c *Chan[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

func (c *Chan[T]) Metrics() Metrics {
	return Metrics{
		Sent:     atomic.LoadInt64(&c.metrics.Sent),
		Dropped:  atomic.LoadInt64(&c.metrics.Dropped),
		Received: atomic.LoadInt64(&c.metrics.Received),
	}
}
