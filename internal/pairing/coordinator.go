// Package pairing arbitrates pairing requests between the platform and bus
// listeners.
package pairing

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/medlink/internal/bus"
	"github.com/srg/medlink/internal/device"
)

// Discoverer is a connection that re-runs service discovery once pairing
// completes.
type Discoverer interface {
	ScheduleDiscovery()
}

// DiscovererLookup returns the connection of a device, or nil.
type DiscovererLookup func(address string) Discoverer

// Coordinator decides who answers a pairing request. Handle runs on the
// manager worker.
type Coordinator struct {
	bus      *bus.Bus
	machines DiscovererLookup
	logger   *logrus.Logger
}

func NewCoordinator(b *bus.Bus, machines DiscovererLookup, logger *logrus.Logger) (*Coordinator, error) {
	if b == nil {
		return nil, device.InvalidArgument("bus", "is nil")
	}
	if logger == nil {
		return nil, device.InvalidArgument("logger", "is nil")
	}
	if machines == nil {
		machines = func(string) Discoverer { return nil }
	}
	return &Coordinator{bus: b, machines: machines, logger: logger}, nil
}

// Handle arbitrates one pairing request, or announces a cancellation when
// isRequest is false. The result tells the platform whether to suppress its
// own pairing UI; cancellations are never claimed.
func (c *Coordinator) Handle(dev *device.Device, isRequest bool, variant device.PairingVariant) bool {
	if dev == nil {
		return false
	}
	entry := c.logger.WithFields(logrus.Fields{
		"device":  dev.String(),
		"variant": variant,
	})

	if !isRequest {
		entry.Debug("Pairing cancelled")
		c.bus.DispatchPairing(bus.PairingEvent{Device: dev, Requested: false, Variant: variant})
		return false
	}

	var claimed bool
	switch variant {
	case device.PairingDisplayPasskey:
		// Nothing to enter or confirm.
		entry.Info("Accepting display-only pairing request")
		claimed = true

	case device.PairingPin,
		device.PairingPasskey,
		device.PairingPasskeyConfirmation,
		device.PairingConsent,
		device.PairingDisplayPin,
		device.PairingOOBConsent:
		claimed = c.bus.DispatchPairing(bus.PairingEvent{Device: dev, Requested: true, Variant: variant})
		entry.WithField("claimed", claimed).Debug("Pairing request delegated to listeners")

	default:
		entry.WithError(fmt.Errorf("%w: %d", device.ErrUnknownVariant, int(variant))).
			Warn("Unknown pairing variant, leaving it to the platform")
		return false
	}

	if claimed {
		if m := c.machines(dev.Address()); m != nil {
			m.ScheduleDiscovery()
		}
	}
	return claimed
}
