// Package worker runs every state transition of a manager on one goroutine
// and owns the keyed delayed tasks that feed back into it.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/medlink/internal/device"
	"github.com/srg/medlink/internal/groutine"
)

// Name is the goroutine label of the manager worker.
const Name = "manager-worker"

// Worker is a single goroutine draining a lossless FIFO mailbox.
type Worker struct {
	logger *logrus.Logger

	mu      sync.Mutex
	queue   []func()
	notify  chan struct{}
	stopped bool

	stop chan struct{}
	done <-chan struct{}
	gid  atomic.Uint64

	tasksMu sync.Mutex
	tasks   *orderedmap.OrderedMap[string, *delayed]
	seq     uint64
}

type delayed struct {
	seq   uint64
	timer *time.Timer
}

// New starts the worker goroutine.
func New(logger *logrus.Logger) *Worker {
	w := &Worker{
		logger: logger,
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		tasks:  orderedmap.New[string, *delayed](),
	}

	started := make(chan struct{})
	w.done = groutine.Go(context.Background(), Name, func(ctx context.Context) {
		w.gid.Store(groutine.GetGID())
		close(started)
		w.loop()
	})
	<-started
	return w
}

func (w *Worker) loop() {
	for {
		select {
		case <-w.stop:
			return
		case <-w.notify:
		}

		for {
			w.mu.Lock()
			if w.stopped || len(w.queue) == 0 {
				w.mu.Unlock()
				break
			}
			fn := w.queue[0]
			w.queue[0] = nil
			w.queue = w.queue[1:]
			w.mu.Unlock()

			w.run(fn)
		}
	}
}

func (w *Worker) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.WithField("panic", r).Error("Worker task panicked")
		}
	}()
	fn()
}

// OnWorker reports whether the caller is running on the worker goroutine.
func (w *Worker) OnWorker() bool {
	return groutine.GetGID() == w.gid.Load()
}

// Post enqueues fn. It returns false once the worker is stopped.
func (w *Worker) Post(fn func()) bool {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return false
	}
	w.queue = append(w.queue, fn)
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the worker and waits for it. Called from the worker itself
// it runs fn inline, so transitions may nest without deadlocking.
func (w *Worker) Call(fn func() error) error {
	if w.OnWorker() {
		return fn()
	}

	f := NewFuture[struct{}]()
	posted := w.Post(func() {
		f.Resolve(struct{}{}, fn())
	})
	if !posted {
		return fmt.Errorf("worker: %w", device.ErrClosed)
	}

	select {
	case <-f.Done():
		_, err := f.Await(context.Background(), 0)
		return err
	case <-w.stop:
		return fmt.Errorf("worker: %w", device.ErrClosed)
	}
}

// Schedule runs fn on the worker after delay. A pending task with the same
// key is replaced, which restarts its delay.
func (w *Worker) Schedule(key string, delay time.Duration, fn func()) {
	w.tasksMu.Lock()
	defer w.tasksMu.Unlock()

	if old, ok := w.tasks.Get(key); ok {
		old.timer.Stop()
	}

	w.seq++
	seq := w.seq
	d := &delayed{seq: seq}
	d.timer = time.AfterFunc(delay, func() {
		w.Post(func() { w.fire(key, seq, fn) })
	})
	w.tasks.Delete(key)
	w.tasks.Set(key, d)
}

func (w *Worker) fire(key string, seq uint64, fn func()) {
	w.tasksMu.Lock()
	cur, ok := w.tasks.Get(key)
	if !ok || cur.seq != seq {
		w.tasksMu.Unlock()
		return
	}
	w.tasks.Delete(key)
	w.tasksMu.Unlock()

	fn()
}

// Cancel drops a pending task. It reports whether one was pending.
func (w *Worker) Cancel(key string) bool {
	w.tasksMu.Lock()
	defer w.tasksMu.Unlock()

	d, ok := w.tasks.Delete(key)
	if ok {
		d.timer.Stop()
	}
	return ok
}

// CancelAll drops every pending task.
func (w *Worker) CancelAll() {
	w.tasksMu.Lock()
	defer w.tasksMu.Unlock()

	for pair := w.tasks.Oldest(); pair != nil; pair = pair.Next() {
		pair.Value.timer.Stop()
	}
	w.tasks = orderedmap.New[string, *delayed]()
}

// Pending reports whether a task is scheduled under key.
func (w *Worker) Pending(key string) bool {
	w.tasksMu.Lock()
	defer w.tasksMu.Unlock()
	_, ok := w.tasks.Get(key)
	return ok
}

// PendingKeys lists scheduled keys, most recently (re)scheduled last.
func (w *Worker) PendingKeys() []string {
	w.tasksMu.Lock()
	defer w.tasksMu.Unlock()

	keys := make([]string, 0, w.tasks.Len())
	for pair := w.tasks.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Stop cancels delayed tasks, discards queued work and waits for the
// goroutine to exit. Safe to call more than once; must not be called from
// the worker itself.
func (w *Worker) Stop() {
	w.CancelAll()

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.stopped = true
	dropped := len(w.queue)
	w.queue = nil
	close(w.stop)
	w.mu.Unlock()

	<-w.done
	if dropped > 0 {
		w.logger.WithField("dropped", dropped).Debug("Worker stopped with queued tasks")
	}
}
