// Package gatt drives the GATT connection of one remote device: connection
// lifecycle, the reaction to bonding, the notification sub-protocol and a
// serialized queue of GATT operations.
//
// Every state transition runs on the manager worker. Public methods may be
// called from any goroutine and hand off to it.
package gatt

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/medlink/internal/bledb"
	"github.com/srg/medlink/internal/bus"
	"github.com/srg/medlink/internal/decoder"
	"github.com/srg/medlink/internal/device"
	"github.com/srg/medlink/internal/platform"
	"github.com/srg/medlink/internal/worker"
)

// Adapter is the part of the adapter facade a machine depends on.
type Adapter interface {
	OpenGatt(address string) (platform.Conn, error)
	SetListening(address string, on bool) error
}

// Config tunes a machine. Zero fields take the tagged defaults.
type Config struct {
	DiscoveryDelay   time.Duration `default:"500ms"`
	OpTimeout        time.Duration `default:"10s"`
	DiscoverUnbonded bool
}

// Machine is the connection state machine of one device.
type Machine struct {
	dev     *device.Device
	adapter Adapter
	worker  *worker.Worker
	bus     *bus.Bus
	logger  *logrus.Logger
	cfg     Config

	discoverKey string
	timeoutKey  string

	state atomic.Int32

	mu        sync.Mutex
	conn      platform.Conn
	listening bool
	subs      *orderedmap.OrderedMap[string, *subscription]
	queue     []*op
	inflight  *op
	seq       uint64
}

// NewMachine creates a Disconnected machine for dev. adapter may be nil, in
// which case every operation fails with ErrNoAdapter.
func NewMachine(dev *device.Device, adapter Adapter, w *worker.Worker, b *bus.Bus, cfg Config, logger *logrus.Logger) (*Machine, error) {
	if dev == nil {
		return nil, device.InvalidArgument("device", "is nil")
	}
	if w == nil {
		return nil, device.InvalidArgument("worker", "is nil")
	}
	if b == nil {
		return nil, device.InvalidArgument("bus", "is nil")
	}
	if logger == nil {
		return nil, device.InvalidArgument("logger", "is nil")
	}
	if cfg.DiscoveryDelay < 0 || cfg.OpTimeout < 0 {
		return nil, device.InvalidArgument("config", "has a negative duration")
	}
	defaults.SetDefaults(&cfg)

	return &Machine{
		dev:         dev,
		adapter:     adapter,
		worker:      w,
		bus:         b,
		logger:      logger,
		cfg:         cfg,
		discoverKey: "discover:" + dev.Address(),
		timeoutKey:  "op:" + dev.Address(),
		subs:        orderedmap.New[string, *subscription](),
	}, nil
}

func (m *Machine) Device() *device.Device { return m.dev }

func (m *Machine) State() device.ConnectionState {
	return device.ConnectionState(m.state.Load())
}

// Listening reports whether the adapter was last told this device is listening.
func (m *Machine) Listening() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listening
}

func (m *Machine) log() *logrus.Entry {
	return m.logger.WithField("device", m.dev.String())
}

func (m *Machine) setState(s device.ConnectionState) {
	prev := device.ConnectionState(m.state.Swap(int32(s)))
	if prev == s {
		return
	}
	m.log().WithFields(logrus.Fields{
		"from": prev,
		"to":   s,
	}).Info("GATT connection state changed")
	m.bus.Dispatch(bus.ConnectionStateChanged{
		Device:    m.dev,
		Previous:  prev,
		State:     s,
		Transport: bus.TransportGatt,
	})
}

// setListening tells the adapter about a listening change, once per change.
func (m *Machine) setListening(on bool) {
	m.mu.Lock()
	unchanged := m.listening == on
	m.mu.Unlock()
	if unchanged || m.adapter == nil {
		return
	}

	if err := m.adapter.SetListening(m.dev.Address(), on); err != nil {
		m.log().WithError(err).Warn("Failed to update listening state")
		return
	}
	m.mu.Lock()
	m.listening = on
	m.mu.Unlock()
}

func (m *Machine) connection() platform.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// ready returns the connection object, or the missing prerequisite.
func (m *Machine) ready(op string) (platform.Conn, error) {
	if m.adapter == nil {
		m.log().WithField("op", op).Warn("No adapter, operation dropped")
		return nil, device.ErrNoAdapter
	}
	conn := m.connection()
	if conn == nil {
		m.log().WithField("op", op).Warn("No connection object, operation dropped")
		return nil, device.ErrNoConnection
	}
	return conn, nil
}

// Connect starts connecting. The outcome arrives asynchronously as a
// ConnectionStateChanged event.
func (m *Machine) Connect() error {
	return m.worker.Call(m.connect)
}

func (m *Machine) connect() error {
	if m.adapter == nil {
		m.log().Warn("No adapter, cannot connect")
		return device.ErrNoAdapter
	}
	switch m.State() {
	case device.Connected, device.Connecting:
		return nil
	case device.Disconnecting:
		// Refused until the platform reports the link down.
		m.log().Debug("Connect while disconnecting, refused")
		return device.NewOperationError("connect", device.ErrNotConnected)
	}

	if conn := m.connection(); conn != nil {
		m.log().Debug("Reconnecting existing GATT connection")
		if err := conn.Connect(); err != nil {
			err = device.NewOperationError("connect", device.NormalizeError(err))
			m.log().WithError(err).Warn("Reconnect failed")
			return err
		}
	} else {
		conn, err := m.adapter.OpenGatt(m.dev.Address())
		if err != nil {
			m.log().WithError(err).Warn("Failed to open GATT connection")
			return err
		}
		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()
	}

	// A binding completing inline may already have moved the state on.
	if m.State() == device.Disconnected {
		m.setState(device.Connecting)
	}
	return nil
}

// Disconnect asks the platform to drop the connection.
func (m *Machine) Disconnect() error {
	return m.worker.Call(func() error {
		conn, err := m.ready("disconnect")
		if err != nil {
			return err
		}
		if m.State() == device.Disconnected {
			return nil
		}

		m.setState(device.Disconnecting)
		m.setListening(false)
		m.worker.Cancel(m.discoverKey)

		if err := conn.Disconnect(); err != nil {
			err = device.NewOperationError("disconnect", device.NormalizeError(err))
			m.log().WithError(err).Warn("Disconnect failed")
			return err
		}
		return nil
	})
}

// Close releases the connection object. Once the worker is stopped the
// object is released directly.
func (m *Machine) Close() error {
	err := m.worker.Call(func() error {
		m.reset()
		err := m.release()
		m.setState(device.Disconnected)
		return err
	})
	if errors.Is(err, device.ErrClosed) {
		return m.release()
	}
	return err
}

func (m *Machine) release() error {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		return device.NewOperationError("close", device.NormalizeError(err))
	}
	return nil
}

// reset drops every per-connection state.
func (m *Machine) reset() {
	m.worker.Cancel(m.discoverKey)
	m.worker.Cancel(m.timeoutKey)

	m.mu.Lock()
	m.subs = orderedmap.New[string, *subscription]()
	m.queue = nil
	m.inflight = nil
	m.mu.Unlock()

	m.setListening(false)
}

// ScheduleDiscovery (re)arms the delayed service discovery if connected.
func (m *Machine) ScheduleDiscovery() {
	if m.State() != device.Connected {
		return
	}
	m.scheduleDiscovery()
}

func (m *Machine) scheduleDiscovery() {
	m.log().WithField("delay", m.cfg.DiscoveryDelay).Debug("Service discovery scheduled")
	m.worker.Schedule(m.discoverKey, m.cfg.DiscoveryDelay, m.discover)
}

func (m *Machine) discover() {
	if m.State() != device.Connected {
		return
	}
	conn := m.connection()
	if conn == nil {
		return
	}
	if err := conn.DiscoverServices(); err != nil {
		m.log().WithError(err).Warn("Service discovery failed to start")
	}
}

// DiscoverServices starts discovery now, bypassing the delay.
func (m *Machine) DiscoverServices() error {
	return m.worker.Call(func() error {
		conn, err := m.ready("discover services")
		if err != nil {
			return err
		}
		m.worker.Cancel(m.discoverKey)
		return device.NewOperationError("discover services", device.NormalizeError(conn.DiscoverServices()))
	})
}

// Services returns the last discovered profile.
func (m *Machine) Services() []platform.Service {
	conn := m.connection()
	if conn == nil {
		return nil
	}
	return conn.Services()
}

// HandleSignal applies one device-scoped platform signal. It must run on
// the manager worker.
func (m *Machine) HandleSignal(sig platform.Signal) {
	switch s := sig.(type) {
	case platform.GattConnectionChanged:
		m.onConnectionChanged(s)
	case platform.BondChanged:
		if s.State == device.Bonded && m.State() == device.Connected {
			m.scheduleDiscovery()
		}
	case platform.ServicesDiscovered:
		m.onServicesDiscovered(s)
	case platform.CharacteristicRead:
		if m.complete(opReadChar, s.Service, s.Characteristic, "", s.Status) && s.Status.OK() {
			m.publish(s.Service, s.Characteristic, s.Value, false)
		}
	case platform.CharacteristicWrite:
		if m.complete(opWriteChar, s.Service, s.Characteristic, "", s.Status) && s.Status.OK() {
			m.publish(s.Service, s.Characteristic, s.Value, false)
		}
	case platform.CharacteristicChanged:
		m.publish(s.Service, s.Characteristic, s.Value, true)
	case platform.DescriptorRead:
		if m.complete(opReadDesc, s.Service, s.Characteristic, s.Descriptor, s.Status) && s.Status.OK() {
			m.log().WithFields(logrus.Fields{
				"characteristic": s.Characteristic,
				"descriptor":     s.Descriptor,
				"value":          fmt.Sprintf("% X", s.Value),
			}).Info("Descriptor read")
		}
	case platform.DescriptorWrite:
		m.complete(opWriteDesc, s.Service, s.Characteristic, s.Descriptor, s.Status)
	case platform.RSSIRead:
		if m.complete(opReadRSSI, "", "", "", s.Status) && s.Status.OK() {
			m.log().WithField("rssi", s.RSSI).Info("Remote RSSI")
		}
	default:
		m.log().Debugf("Ignoring signal %T", sig)
	}
}

func (m *Machine) onConnectionChanged(s platform.GattConnectionChanged) {
	if !s.Status.OK() {
		m.log().WithFields(logrus.Fields{
			"status": s.Status,
			"state":  s.State,
		}).Warn("GATT connection reported a failure status")
	}

	switch s.State {
	case device.Connected:
		m.setState(device.Connected)
		switch m.dev.BondState() {
		case device.Bonded:
			m.scheduleDiscovery()
		case device.BondNone:
			if m.cfg.DiscoverUnbonded {
				m.scheduleDiscovery()
			}
		}
	case device.Disconnected:
		m.setState(device.Disconnected)
		m.reset()
	default:
		m.setState(s.State)
	}
}

func (m *Machine) onServicesDiscovered(s platform.ServicesDiscovered) {
	ev := bus.ServicesDiscovered{Device: m.dev}
	if !s.Status.OK() {
		ev.Err = device.NewOperationError("discover services", fmt.Errorf("status %d", s.Status))
		m.log().WithError(ev.Err).Warn("Service discovery failed")
		m.bus.Dispatch(ev)
		return
	}

	for _, svc := range m.Services() {
		ev.Services = append(ev.Services, svc.UUID)
	}
	m.log().WithField("services", len(ev.Services)).Info("Services discovered")
	m.bus.Dispatch(ev)
}

// publish decodes and dispatches a characteristic value.
func (m *Machine) publish(service, char string, value []byte, notification bool) {
	service = bledb.NormalizeUUID(service)
	char = bledb.NormalizeUUID(char)
	reading := decoder.Decode(char, value)

	entry := m.log().WithFields(logrus.Fields{
		"characteristic": bledb.LookupOr(char, char),
		"reading":        reading.String(),
	})
	if notification {
		entry.Debug("Notification received")
	} else {
		entry.Info("Characteristic value")
	}

	m.bus.Dispatch(bus.CharacteristicValue{
		Device:         m.dev,
		Service:        service,
		Characteristic: char,
		Value:          append([]byte(nil), value...),
		Reading:        reading,
		Notification:   notification,
	})
}
