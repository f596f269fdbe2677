// Package manager assembles the radio binding, the worker, the event bus and
// the per-device connection machines into one owned object.
package manager

import (
	"context"
	"errors"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/medlink/internal/adapter"
	"github.com/srg/medlink/internal/bus"
	"github.com/srg/medlink/internal/capability"
	"github.com/srg/medlink/internal/device"
	"github.com/srg/medlink/internal/gatt"
	"github.com/srg/medlink/internal/pairing"
	"github.com/srg/medlink/internal/platform"
	"github.com/srg/medlink/internal/worker"
	"github.com/srg/medlink/pkg/config"
)

// Opener creates the platform radio. It may block; New bounds it with the
// configured adapter timeout.
type Opener func() (platform.Radio, error)

// Manager owns one radio and everything built on it. Close releases it all.
type Manager struct {
	cfg    *config.Config
	logger *logrus.Logger

	radio    platform.Radio
	worker   *worker.Worker
	bus      *bus.Bus
	registry *device.Registry
	facade   *adapter.Facade
	machines *hashmap.Map[string, *gatt.Machine]

	closeOnce sync.Once
	closeErr  error
}

// New opens the radio and wires the manager. cfg may be nil for defaults.
func New(ctx context.Context, open Opener, cfg *config.Config, logger *logrus.Logger) (*Manager, error) {
	if open == nil {
		return nil, device.InvalidArgument("opener", "is nil")
	}
	if logger == nil {
		return nil, device.InvalidArgument("logger", "is nil")
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	radio, err := worker.Acquire(ctx, "adapter-open", cfg.AdapterTimeout, open)
	if err != nil {
		logger.WithError(err).Error("Failed to open the Bluetooth adapter")
		return nil, device.NewOperationError("open adapter", device.NormalizeError(err))
	}
	if radio == nil {
		return nil, device.ErrNoAdapter
	}

	caps := capability.Detect(radio, logger)
	logger.WithField("features", caps.String()).Info("Adapter capabilities detected")

	b := bus.New(logger)
	w := worker.New(logger)
	facade, err := adapter.NewFacade(radio, caps, b, w, logger)
	if err != nil {
		w.Stop()
		_ = radio.Close()
		return nil, err
	}

	m := &Manager{
		cfg:      cfg,
		logger:   logger,
		radio:    radio,
		worker:   w,
		bus:      b,
		registry: device.NewRegistry(),
		facade:   facade,
		machines: hashmap.New[string, *gatt.Machine](),
	}

	coordinator, err := pairing.NewCoordinator(b, m.discoverer, logger)
	if err != nil {
		m.abort()
		return nil, err
	}
	redirector, err := adapter.NewRedirector(facade, m.registry, m.signalHandler, coordinator, logger)
	if err != nil {
		m.abort()
		return nil, err
	}

	radio.Attach(&sink{worker: m.worker, redirector: redirector, logger: logger})
	return m, nil
}

func (m *Manager) abort() {
	m.worker.Stop()
	_ = m.radio.Close()
}

// The lookups return untyped nil for unknown devices so callers can compare
// the interface against nil.
func (m *Manager) signalHandler(address string) adapter.SignalHandler {
	if mc, ok := m.machines.Get(address); ok {
		return mc
	}
	return nil
}

func (m *Manager) discoverer(address string) pairing.Discoverer {
	if mc, ok := m.machines.Get(address); ok {
		return mc
	}
	return nil
}

func (m *Manager) Config() *config.Config { return m.cfg }
func (m *Manager) Bus() *bus.Bus          { return m.bus }

// Adapter is the capability-gated adapter facade.
func (m *Manager) Adapter() *adapter.Facade { return m.facade }

func (m *Manager) Capabilities() capability.Set { return m.facade.Capabilities() }

func (m *Manager) Subscribe(l bus.Listener) (*bus.Registration, error) {
	return m.bus.Subscribe(l)
}

func (m *Manager) Unsubscribe(l bus.Listener) (bool, error) {
	return m.bus.Unsubscribe(l)
}

// Devices returns every device seen so far, sorted by address.
func (m *Manager) Devices() []*device.Device {
	return m.registry.Devices()
}

func (m *Manager) Device(address string) (*device.Device, bool) {
	return m.registry.Get(address)
}

// Machine returns the connection machine of a device that was connected at
// least once.
func (m *Manager) Machine(address string) (*gatt.Machine, bool) {
	return m.machines.Get(device.NormalizeAddress(address))
}

// machine returns the machine for address, creating it and its device
// record on first use.
func (m *Manager) machine(address string) (*gatt.Machine, error) {
	dev, _, err := m.registry.GetOrCreate(address)
	if err != nil {
		return nil, err
	}
	if mc, ok := m.machines.Get(dev.Address()); ok {
		return mc, nil
	}

	mc, err := gatt.NewMachine(dev, m.facade, m.worker, m.bus, m.cfg.Machine(), m.logger)
	if err != nil {
		return nil, err
	}
	actual, _ := m.machines.GetOrInsert(dev.Address(), mc)
	return actual, nil
}

// Connect starts a GATT connection to address and returns its machine. The
// connection outcome is published on the bus.
func (m *Manager) Connect(address string) (*gatt.Machine, error) {
	mc, err := m.machine(address)
	if err != nil {
		return nil, err
	}
	if err := mc.Connect(); err != nil {
		return mc, err
	}
	return mc, nil
}

func (m *Manager) Disconnect(address string) error {
	mc, ok := m.Machine(address)
	if !ok {
		return device.ErrNoConnection
	}
	return mc.Disconnect()
}

// Close cancels delayed work, stops the worker, closes every connection
// object and finally the radio. It is safe to call more than once.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.logger.Debug("Shutting down manager")
		m.worker.CancelAll()
		m.worker.Stop()

		var errs []error
		m.machines.Range(func(addr string, mc *gatt.Machine) bool {
			if err := mc.Close(); err != nil {
				m.logger.WithError(err).WithField("device", addr).Warn("Failed to close connection")
				errs = append(errs, err)
			}
			return true
		})
		if err := m.radio.Close(); err != nil {
			errs = append(errs, device.NewOperationError("close adapter", device.NormalizeError(err)))
		}
		m.closeErr = errors.Join(errs...)
	})
	return m.closeErr
}

// sink hands platform signals to the worker. Pairing blocks the binding
// until the request is arbitrated.
type sink struct {
	worker     *worker.Worker
	redirector *adapter.Redirector
	logger     *logrus.Logger
}

func (s *sink) Signal(sig platform.Signal) {
	if !s.worker.Post(func() { s.redirector.Signal(sig) }) {
		s.logger.Debugf("Dropping %T after shutdown", sig)
	}
}

func (s *sink) Pairing(req platform.PairingRequest) bool {
	claimed := false
	err := s.worker.Call(func() error {
		claimed = s.redirector.Pairing(req)
		return nil
	})
	if err != nil {
		s.logger.WithError(err).Debug("Pairing request after shutdown")
		return false
	}
	return claimed
}
