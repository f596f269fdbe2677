package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/medlink/internal/bus"
	"github.com/srg/medlink/internal/device"
	"github.com/srg/medlink/internal/ringchan"
)

// eventStream moves bus events off the dispatching goroutine. The bus calls
// listeners synchronously, so a slow terminal would otherwise stall the
// worker; when the buffer fills, the oldest event is dropped.
type eventStream struct {
	bus.NopListener
	events *ringchan.Chan[bus.Event]
	logger *logrus.Logger
}

func newEventStream(capacity int, logger *logrus.Logger) *eventStream {
	return &eventStream{events: ringchan.New[bus.Event](capacity), logger: logger}
}

func (s *eventStream) push(ev bus.Event) {
	if s.events.Send(ev) {
		s.logger.Warnf("Event buffer full, dropped the oldest event to queue %T", ev)
	}
}

func (s *eventStream) OnAdapterPowerChanged(ev bus.AdapterPowerChanged)       { s.push(ev) }
func (s *eventStream) OnDeviceFound(ev bus.DeviceFound)                       { s.push(ev) }
func (s *eventStream) OnConnectionStateChanged(ev bus.ConnectionStateChanged) { s.push(ev) }
func (s *eventStream) OnBondStateChanged(ev bus.BondStateChanged)             { s.push(ev) }
func (s *eventStream) OnServicesDiscovered(ev bus.ServicesDiscovered)         { s.push(ev) }
func (s *eventStream) OnCharacteristicValue(ev bus.CharacteristicValue)       { s.push(ev) }

// OnPairingEvent reports the request but never claims it; the platform's own
// pairing dialog handles secrets.
func (s *eventStream) OnPairingEvent(ev bus.PairingEvent) bool {
	s.push(ev)
	return false
}

func (s *eventStream) Close() {
	if m := s.events.Metrics(); m.Dropped > 0 {
		s.logger.WithField("dropped", m.Dropped).Warn("Events were dropped while streaming")
	}
	s.events.Close()
}

// next waits for the next event. ok is false when ctx ends, the deadline
// passes or the stream is closed; a zero deadline waits indefinitely.
func (s *eventStream) next(ctx context.Context, deadline time.Time) (bus.Event, bool) {
	var expired <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case ev, ok := <-s.events.C():
		return ev, ok
	case <-expired:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// waitConnection waits until address reaches want on the GATT transport.
// A transition to Disconnected while waiting for anything else fails fast.
func (s *eventStream) waitConnection(ctx context.Context, address string, want device.ConnectionState, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		ev, ok := s.next(ctx, deadline)
		if !ok {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return device.NewOperationError("wait for "+want.String(), device.ErrTimeout)
		}
		cs, isConn := ev.(bus.ConnectionStateChanged)
		if !isConn || cs.Transport != bus.TransportGatt || cs.Device.Address() != address {
			continue
		}
		if cs.State == want {
			return nil
		}
		if cs.State == device.Disconnected {
			return ErrConnectionLost
		}
	}
}

// waitServices waits for the discovery result of address.
func (s *eventStream) waitServices(ctx context.Context, address string, timeout time.Duration) (bus.ServicesDiscovered, error) {
	deadline := time.Now().Add(timeout)
	for {
		ev, ok := s.next(ctx, deadline)
		if !ok {
			if ctx.Err() != nil {
				return bus.ServicesDiscovered{}, ctx.Err()
			}
			return bus.ServicesDiscovered{}, device.NewOperationError("service discovery", device.ErrTimeout)
		}
		switch e := ev.(type) {
		case bus.ServicesDiscovered:
			if e.Device.Address() == address {
				return e, e.Err
			}
		case bus.ConnectionStateChanged:
			if e.Transport == bus.TransportGatt && e.Device.Address() == address && e.State == device.Disconnected {
				return bus.ServicesDiscovered{}, ErrConnectionLost
			}
		}
	}
}
