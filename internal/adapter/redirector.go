package adapter

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/srg/medlink/internal/bus"
	"github.com/srg/medlink/internal/capability"
	"github.com/srg/medlink/internal/device"
	"github.com/srg/medlink/internal/platform"
)

// SignalHandler consumes the device-scoped signals of one connection.
type SignalHandler interface {
	HandleSignal(sig platform.Signal)
}

// PairingHandler arbitrates pairing requests and cancellations.
type PairingHandler interface {
	Handle(dev *device.Device, isRequest bool, variant device.PairingVariant) bool
}

// MachineLookup returns the connection machine for an address, or nil.
type MachineLookup func(address string) SignalHandler

// Redirector turns platform signals into registry updates and bus events.
// Signal and Pairing must be called on the manager worker.
type Redirector struct {
	facade   *Facade
	bus      *bus.Bus
	registry *device.Registry
	machines MachineLookup
	pairing  PairingHandler
	logger   *logrus.Logger
}

func NewRedirector(f *Facade, registry *device.Registry, machines MachineLookup, pairing PairingHandler, logger *logrus.Logger) (*Redirector, error) {
	if f == nil {
		return nil, device.InvalidArgument("facade", "is nil")
	}
	if registry == nil {
		return nil, device.InvalidArgument("registry", "is nil")
	}
	if logger == nil {
		logger = f.logger
	}
	if machines == nil {
		machines = func(string) SignalHandler { return nil }
	}
	return &Redirector{
		facade:   f,
		bus:      f.bus,
		registry: registry,
		machines: machines,
		pairing:  pairing,
		logger:   logger,
	}, nil
}

// simulateGattReady is set when the binding has no native GATT-ready signal
// but does speak BLE; power transitions then stand in for it.
func (r *Redirector) simulateGattReady() bool {
	caps := r.facade.caps
	return !caps.Supported(capability.VendorReady) && caps.Supported(capability.LEScan)
}

func (r *Redirector) device(address string) *device.Device {
	dev, _, err := r.registry.GetOrCreate(address)
	if err != nil {
		r.logger.WithError(err).Warn("Signal without a usable address")
		return nil
	}
	return dev
}

// Signal handles one platform signal.
func (r *Redirector) Signal(sig platform.Signal) {
	switch s := sig.(type) {
	case platform.PowerStateChanged:
		r.onPower(s.State)

	case platform.DiscoveryStarted:
		r.logger.Debug("Classic discovery started")
		r.facade.setDiscovering(true)

	case platform.DiscoveryFinished:
		r.logger.Debug("Classic discovery finished")
		r.facade.setDiscovering(false)

	case platform.ScanModeChanged:
		r.logger.WithField("mode", s.Mode).Debug("Scan mode changed")
		r.facade.setScanMode(s.Mode)

	case platform.DeviceFound:
		r.onDeviceFound(s)

	case platform.NameChanged:
		if dev := r.device(s.Address); dev != nil && dev.SetName(s.Name) {
			r.logger.WithFields(logrus.Fields{"address": dev.Address(), "name": s.Name}).Debug("Device name updated")
			r.bus.Dispatch(bus.DeviceInfoChanged{Device: dev, What: device.InfoName})
		}

	case platform.ClassChanged:
		if dev := r.device(s.Address); dev != nil && dev.SetClass(s.Class) {
			r.logger.WithFields(logrus.Fields{"address": dev.Address(), "class": s.Class}).Debug("Device class updated")
			r.bus.Dispatch(bus.DeviceInfoChanged{Device: dev, What: device.InfoClass})
		}

	case platform.DeviceDisappeared:
		if dev, ok := r.registry.Get(s.Address); ok {
			r.logger.WithField("address", dev.Address()).Debug("Device disappeared")
			r.bus.Dispatch(bus.DeviceDisappeared{Device: dev})
		}

	case platform.LinkChanged:
		r.onLink(s)

	case platform.BondChanged:
		r.onBond(s)

	case platform.PairingCancel:
		if dev := r.device(s.Address); dev != nil && r.pairing != nil {
			r.logger.WithField("address", dev.Address()).Debug("Pairing cancelled")
			r.pairing.Handle(dev, false, device.PairingVariant(-1))
		}

	case platform.GattServiceState:
		r.logger.WithField("ready", s.Ready).Debug("GATT service state changed")
		r.bus.Dispatch(bus.GattServiceStateChanged{Ready: s.Ready})

	default:
		address := platform.SignalAddress(sig)
		if address == "" {
			r.logger.WithField("signal", fmt.Sprintf("%T", sig)).Warn("Unhandled platform signal")
			return
		}
		if m := r.machines(device.NormalizeAddress(address)); m != nil {
			m.HandleSignal(sig)
			return
		}
		r.logger.WithFields(logrus.Fields{
			"address": address,
			"signal":  fmt.Sprintf("%T", sig),
		}).Debug("Signal for a device without a connection")
	}
}

func (r *Redirector) onPower(state device.PowerState) {
	if !r.facade.setPower(state) {
		return
	}
	r.logger.WithField("state", state).Info("Adapter power state changed")

	if !r.simulateGattReady() {
		return
	}
	// Turning-off reports ready as well, the same as the vendor hubs do.
	switch state {
	case device.PowerOn, device.PowerTurningOff:
		r.bus.Dispatch(bus.GattServiceStateChanged{Ready: true})
	}
}

func (r *Redirector) onDeviceFound(s platform.DeviceFound) {
	dev := r.device(s.Address)
	if dev == nil {
		return
	}
	dev.SetName(s.Name)
	if s.Class != 0 {
		dev.SetClass(s.Class)
	}
	if s.Handle != nil {
		dev.SetHandle(s.Handle)
	}

	fields := logrus.Fields{
		"address": dev.Address(),
		"name":    dev.Name(),
		"rssi":    s.RSSI,
	}
	if s.LE {
		fields["record"] = hexRecord(s.Record)
		r.logger.WithFields(fields).Debug("BLE device found")
	} else {
		fields["class"] = fmt.Sprintf("%06x", s.Class)
		r.logger.WithFields(fields).Debug("Device found")
	}

	r.bus.Dispatch(bus.DeviceFound{Device: dev, RSSI: s.RSSI, LE: s.LE, Record: s.Record})
}

func hexRecord(record []byte) string {
	var sb strings.Builder
	for _, b := range record {
		fmt.Fprintf(&sb, "%02X ", b)
	}
	return strings.TrimSpace(sb.String())
}

func (r *Redirector) onLink(s platform.LinkChanged) {
	dev := r.device(s.Address)
	if dev == nil {
		return
	}
	prev, changed := dev.SetLinkState(s.State)
	if !changed {
		return
	}
	r.logger.WithFields(logrus.Fields{
		"address": dev.Address(),
		"state":   s.State,
	}).Debug("Link state changed")
	r.bus.Dispatch(bus.ConnectionStateChanged{
		Device:    dev,
		Previous:  prev,
		State:     s.State,
		Transport: bus.TransportLink,
	})
}

// onBond publishes real transitions but always informs the machine, which
// debounces discovery on every Bonded report.
func (r *Redirector) onBond(s platform.BondChanged) {
	dev := r.device(s.Address)
	if dev == nil {
		return
	}
	prev, changed := dev.SetBondState(s.State)
	if changed {
		r.logger.WithFields(logrus.Fields{
			"address":  dev.Address(),
			"previous": prev,
			"state":    s.State,
		}).Info("Bond state changed")
		r.bus.Dispatch(bus.BondStateChanged{Device: dev, Previous: prev, State: s.State})
	}
	if m := r.machines(dev.Address()); m != nil {
		m.HandleSignal(s)
	}
}

// Pairing handles a pairing request and reports whether it was claimed.
func (r *Redirector) Pairing(req platform.PairingRequest) bool {
	dev := r.device(req.Address)
	if dev == nil || r.pairing == nil {
		return false
	}
	r.logger.WithFields(logrus.Fields{
		"address": dev.Address(),
		"variant": req.Variant,
	}).Debug("Pairing requested")

	claimed := r.pairing.Handle(dev, true, req.Variant)
	if claimed {
		r.logger.WithField("address", dev.Address()).Debug("Pairing request processed by a listener")
	}
	return claimed
}
