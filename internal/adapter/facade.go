// Package adapter puts one contract over whatever the platform binding can
// do. Optional operations are gated on the capability set detected at start,
// platform failures come back as error values, and bus events fire once per
// real state transition.
package adapter

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/medlink/internal/bus"
	"github.com/srg/medlink/internal/capability"
	"github.com/srg/medlink/internal/device"
	"github.com/srg/medlink/internal/platform"
)

// Runner executes fn on the goroutine that delivers bus events and waits for
// it. Called from that goroutine it runs fn inline.
type Runner interface {
	Call(fn func() error) error
}

// Facade is the capability-gated adapter. State setters are called by the
// Redirector on the manager worker; operations may be called from anywhere,
// and the ones that publish events hop onto the worker first.
type Facade struct {
	radio  platform.Radio
	caps   capability.Set
	bus    *bus.Bus
	runner Runner
	logger *logrus.Logger

	scanMu sync.Mutex

	mu            sync.Mutex
	power         device.PowerState
	powerKnown    bool
	discovering   bool
	leScanning    bool
	scanMode      device.ScanMode
	scanModeKnown bool
}

func NewFacade(radio platform.Radio, caps capability.Set, b *bus.Bus, runner Runner, logger *logrus.Logger) (*Facade, error) {
	if radio == nil {
		return nil, device.InvalidArgument("radio", "is nil")
	}
	if b == nil {
		return nil, device.InvalidArgument("bus", "is nil")
	}
	if runner == nil {
		return nil, device.InvalidArgument("runner", "is nil")
	}
	if logger == nil {
		return nil, device.InvalidArgument("logger", "is nil")
	}
	return &Facade{radio: radio, caps: caps, bus: b, runner: runner, logger: logger}, nil
}

func (f *Facade) Capabilities() capability.Set { return f.caps }

func (f *Facade) IsFeatureSupported(feature capability.Feature) bool {
	return f.caps.Supported(feature)
}

func (f *Facade) require(feature capability.Feature) error {
	if f.caps.Supported(feature) {
		return nil
	}
	return &device.CapabilityError{Feature: string(feature)}
}

// call runs a platform operation. Panics and errors come back as an
// OperationError; nothing escapes to the caller.
func (f *Facade) call(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("platform panic: %v", r)
		}
		if err != nil {
			err = device.NewOperationError(op, device.NormalizeError(err))
			f.logger.WithFields(logrus.Fields{
				"op":    op,
				"error": err,
			}).Warn("Adapter operation failed")
		}
	}()
	return fn()
}

// PowerState asks the platform directly; a failing binding reads as Off.
func (f *Facade) PowerState() device.PowerState {
	state := device.PowerOff
	_ = f.call("power state", func() error {
		state = f.radio.PowerState()
		return nil
	})
	return state
}

func (f *Facade) IsEnabled() bool {
	return f.PowerState() == device.PowerOn
}

// Enable turns the radio on. The resulting power events arrive as signals.
func (f *Facade) Enable() error {
	if f.PowerState() == device.PowerOn {
		return nil
	}
	return f.call("enable", f.radio.Enable)
}

func (f *Facade) Disable() error {
	if f.PowerState() == device.PowerOff {
		return nil
	}
	return f.call("disable", f.radio.Disable)
}

func (f *Facade) StartDiscovery() error {
	if f.IsDiscovering() {
		return nil
	}
	return f.call("start discovery", f.radio.StartDiscovery)
}

func (f *Facade) CancelDiscovery() error {
	if !f.IsDiscovering() {
		return nil
	}
	return f.call("cancel discovery", f.radio.CancelDiscovery)
}

// IsDiscovering reports classic discovery as the platform sees it.
func (f *Facade) IsDiscovering() bool {
	var on bool
	_ = f.call("is discovering", func() error {
		on = f.radio.IsDiscovering()
		return nil
	})
	return on
}

func (f *Facade) StartLEScan() error {
	return f.setLEScan(true)
}

func (f *Facade) StopLEScan() error {
	return f.setLEScan(false)
}

// setLEScan runs on the worker like every other dispatch, so listeners
// reacting to the event may call back into machines. The event goes out
// after the scan lock is released so listeners may query the facade.
func (f *Facade) setLEScan(on bool) error {
	if err := f.require(capability.LEScan); err != nil {
		return err
	}
	return f.runner.Call(func() error { return f.applyLEScan(on) })
}

func (f *Facade) applyLEScan(on bool) error {
	f.scanMu.Lock()
	if f.IsLEScanning() == on {
		f.scanMu.Unlock()
		return nil
	}
	op, fn := "start le scan", f.radio.StartLEScan
	if !on {
		op, fn = "stop le scan", f.radio.StopLEScan
	}
	if err := f.call(op, fn); err != nil {
		f.scanMu.Unlock()
		return err
	}
	f.mu.Lock()
	f.leScanning = on
	f.mu.Unlock()
	f.scanMu.Unlock()

	f.logger.WithField("started", on).Debug("BLE scan state changed")
	f.bus.Dispatch(bus.DiscoveryStateChanged{Started: on})
	return nil
}

func (f *Facade) IsLEScanning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leScanning
}

func (f *Facade) ScanMode() device.ScanMode {
	mode := device.ScanModeNone
	_ = f.call("scan mode", func() error {
		mode = f.radio.ScanMode()
		return nil
	})
	return mode
}

// SetScanMode applies mode; duration only matters for the discoverable mode,
// and zero leaves the platform default.
func (f *Facade) SetScanMode(mode device.ScanMode, duration time.Duration) error {
	if mode < device.ScanModeNone || mode > device.ScanModeConnectableDiscoverable {
		return device.InvalidArgument("scan mode", fmt.Sprintf("%d is unknown", mode))
	}
	if duration < 0 {
		return device.InvalidArgument("duration", "is negative")
	}
	return f.call("set scan mode", func() error {
		return f.radio.SetScanMode(mode, duration)
	})
}

func (f *Facade) SetDiscoverable(on bool) error {
	if on {
		return f.SetScanMode(device.ScanModeConnectableDiscoverable, 0)
	}
	return f.SetScanMode(device.ScanModeConnectable, 0)
}

func (f *Facade) requireOn(op string) error {
	if state := f.PowerState(); state != device.PowerOn {
		return fmt.Errorf("%s: %w (state %s)", op, device.ErrBluetoothOff, state)
	}
	return nil
}

func (f *Facade) DiscoverableTimeout() (time.Duration, error) {
	if err := f.requireOn("discoverable timeout"); err != nil {
		return 0, err
	}
	var d time.Duration
	err := f.call("discoverable timeout", func() (err error) {
		d, err = f.radio.DiscoverableTimeout()
		return err
	})
	return d, err
}

func (f *Facade) SetDiscoverableTimeout(d time.Duration) error {
	if d < 0 {
		return device.InvalidArgument("timeout", "is negative")
	}
	if err := f.requireOn("set discoverable timeout"); err != nil {
		return err
	}
	return f.call("set discoverable timeout", func() error {
		return f.radio.SetDiscoverableTimeout(d)
	})
}

func (f *Facade) RestartGatt() error {
	if err := f.require(capability.VendorRestart); err != nil {
		return err
	}
	return f.call("restart gatt", f.radio.RestartGatt)
}

// GattReady uses the vendor hook when present. Without it a BLE-capable
// radio is ready whenever it is on.
func (f *Facade) GattReady() (bool, error) {
	if f.caps.Supported(capability.VendorReady) {
		var ready bool
		err := f.call("gatt ready", func() (err error) {
			ready, err = f.radio.GattReady()
			return err
		})
		return ready, err
	}
	if !f.caps.Supported(capability.LEScan) {
		return false, nil
	}
	return f.IsEnabled(), nil
}

// SetListening toggles the vendor listening flag; without the hook there is
// nothing to do.
func (f *Facade) SetListening(address string, on bool) error {
	addr, err := device.ValidateAddress(address)
	if err != nil {
		return err
	}
	if !f.caps.Supported(capability.VendorListen) {
		return nil
	}
	return f.call("set listening", func() error {
		return f.radio.SetListening(addr, on)
	})
}

// OpenGatt allocates a platform connection object and starts connecting.
func (f *Facade) OpenGatt(address string) (platform.Conn, error) {
	addr, err := device.ValidateAddress(address)
	if err != nil {
		return nil, err
	}
	if err := f.require(capability.GattConnect); err != nil {
		return nil, err
	}

	var conn platform.Conn
	err = f.call("open gatt", func() (err error) {
		conn, err = f.radio.Open(addr)
		return err
	})
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, device.NewOperationError("open gatt", device.ErrNoConnection)
	}
	return conn, nil
}

// setPower records a reported power state. Only On and Off are published,
// and only when they differ from the last report. Power loss also ends an
// LE scan, which is announced after the power change.
func (f *Facade) setPower(state device.PowerState) bool {
	f.mu.Lock()
	if f.powerKnown && f.power == state {
		f.mu.Unlock()
		return false
	}
	f.power, f.powerKnown = state, true
	scanLost := state == device.PowerOff && f.leScanning
	if scanLost {
		f.leScanning = false
	}
	f.mu.Unlock()

	if state == device.PowerOn || state == device.PowerOff {
		f.bus.Dispatch(bus.AdapterPowerChanged{State: state})
	}
	if scanLost {
		f.logger.Debug("BLE scan stopped by power loss")
		f.bus.Dispatch(bus.DiscoveryStateChanged{Started: false})
	}
	return true
}

func (f *Facade) setDiscovering(on bool) {
	f.mu.Lock()
	if f.discovering == on {
		f.mu.Unlock()
		return
	}
	f.discovering = on
	f.mu.Unlock()
	f.bus.Dispatch(bus.DiscoveryStateChanged{Started: on})
}

func (f *Facade) setScanMode(mode device.ScanMode) {
	f.mu.Lock()
	if f.scanModeKnown && f.scanMode == mode {
		f.mu.Unlock()
		return
	}
	f.scanMode, f.scanModeKnown = mode, true
	f.mu.Unlock()
	f.bus.Dispatch(bus.ScanModeChanged{Mode: mode})
}
