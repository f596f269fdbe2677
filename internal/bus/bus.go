// Package bus fans typed adapter and device events out to registered
// listeners, synchronously and in registration order.
package bus

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/medlink/internal/device"
	"github.com/srg/medlink/internal/groutine"
)

// ErrReentrant is returned when a listener tries to change the registry from
// inside a dispatch.
var ErrReentrant = errors.New("bus: registry changed from inside a listener")

// Registration is the handle returned by Subscribe. Releasing it marks the
// slot dead without taking the registry lock; the slot is skipped at once
// and swept by the next Subscribe or Unsubscribe.
type Registration struct {
	id   uint64
	dead atomic.Bool
}

func (r *Registration) Release() {
	r.dead.Store(true)
}

func (r *Registration) Alive() bool {
	return !r.dead.Load()
}

type slot struct {
	listener Listener
	reg      *Registration
}

// Bus is the listener registry. A single mutex guards the slot table and is
// held for the whole of every dispatch.
type Bus struct {
	logger *logrus.Logger

	mu       sync.Mutex
	slots    *orderedmap.OrderedMap[uint64, *slot]
	nextID   uint64
	deferred []Event

	// gid of the goroutine holding mu for a dispatch, 0 otherwise.
	owner atomic.Uint64
}

func New(logger *logrus.Logger) *Bus {
	return &Bus{
		logger: logger,
		slots:  orderedmap.New[uint64, *slot](),
	}
}

func (b *Bus) reentrant() bool {
	return b.owner.Load() == groutine.GetGID()
}

// Subscribe registers l. Subscribing a listener that is already present
// returns its existing registration. Listeners of non-comparable dynamic
// type cannot be deduplicated and always get a new slot.
func (b *Bus) Subscribe(l Listener) (*Registration, error) {
	if l == nil {
		return nil, device.InvalidArgument("listener", "is nil")
	}
	if b.reentrant() {
		return nil, ErrReentrant
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var existing *Registration
	b.sweep(func(s *slot) bool {
		if existing == nil && sameListener(s.listener, l) {
			existing = s.reg
		}
		return false
	})
	if existing != nil {
		return existing, nil
	}

	b.nextID++
	reg := &Registration{id: b.nextID}
	b.slots.Set(reg.id, &slot{listener: l, reg: reg})
	return reg, nil
}

// Unsubscribe removes l and sweeps dead slots in the same pass. It reports
// whether l was registered.
func (b *Bus) Unsubscribe(l Listener) (bool, error) {
	if l == nil {
		return false, nil
	}
	if b.reentrant() {
		return false, ErrReentrant
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	found := false
	b.sweep(func(s *slot) bool {
		if sameListener(s.listener, l) {
			s.reg.Release()
			found = true
			return true
		}
		return false
	})
	return found, nil
}

// sweep visits live slots in order and drops dead ones plus every slot for
// which remove returns true. Callers hold mu.
func (b *Bus) sweep(remove func(*slot) bool) {
	var drop []uint64
	for pair := b.slots.Oldest(); pair != nil; pair = pair.Next() {
		s := pair.Value
		if !s.reg.Alive() || remove(s) {
			drop = append(drop, pair.Key)
		}
	}
	for _, id := range drop {
		b.slots.Delete(id)
	}
}

// Len returns the number of slots held, including released ones not yet swept.
func (b *Bus) Len() int {
	if b.reentrant() {
		return b.slots.Len()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slots.Len()
}

// Dispatch delivers ev to every live listener in registration order. Events
// dispatched by a listener during delivery are queued and delivered after
// the current event has reached every listener.
func (b *Bus) Dispatch(ev Event) {
	if ev == nil || !deliver(NopListener{}, ev) {
		b.logger.WithField("event", fmt.Sprintf("%T", ev)).Warn("Unknown event kind, ignoring")
		return
	}

	if b.reentrant() {
		b.deferred = append(b.deferred, ev)
		return
	}

	b.mu.Lock()
	b.owner.Store(groutine.GetGID())
	defer func() {
		b.owner.Store(0)
		b.mu.Unlock()
	}()

	b.deliverAll(ev)
	for len(b.deferred) > 0 {
		next := b.deferred[0]
		b.deferred = b.deferred[1:]
		b.deliverAll(next)
	}
	b.deferred = nil
}

func (b *Bus) deliverAll(ev Event) {
	for pair := b.slots.Oldest(); pair != nil; pair = pair.Next() {
		s := pair.Value
		if !s.reg.Alive() {
			continue
		}
		b.safely(ev, func() { deliver(s.listener, ev) })
	}
}

// DispatchPairing offers ev to listeners in order and stops at the first
// claim. Cancellations are delivered the same way but never report a claim.
func (b *Bus) DispatchPairing(ev PairingEvent) bool {
	claimed := false
	visit := func() {
		for pair := b.slots.Oldest(); pair != nil; pair = pair.Next() {
			s := pair.Value
			if !s.reg.Alive() {
				continue
			}
			b.safely(ev, func() { claimed = s.listener.OnPairingEvent(ev) })
			if claimed {
				return
			}
		}
	}

	if b.reentrant() {
		visit()
	} else {
		b.mu.Lock()
		b.owner.Store(groutine.GetGID())
		visit()
		for len(b.deferred) > 0 {
			next := b.deferred[0]
			b.deferred = b.deferred[1:]
			b.deliverAll(next)
		}
		b.deferred = nil
		b.owner.Store(0)
		b.mu.Unlock()
	}

	return ev.Requested && claimed
}

func (b *Bus) safely(ev Event, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(logrus.Fields{
				"event": fmt.Sprintf("%T", ev),
				"panic": r,
			}).Error("Listener panicked")
		}
	}()
	fn()
}

func sameListener(a, b Listener) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
