// Package goble binds the platform contract to go-ble. The host stack only
// offers LE scanning and GATT client connections; classic discovery, power
// control and the vendor hooks report ErrUnsupported.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/medlink/internal/capability"
	"github.com/srg/medlink/internal/device"
	"github.com/srg/medlink/internal/groutine"
	"github.com/srg/medlink/internal/platform"
)

// statusFailure is GATT_FAILURE, reported for every go-ble error.
const statusFailure platform.Status = 0x101

// noTxPower is what go-ble reports when the TX power AD type is absent.
const noTxPower = 127

type Radio struct {
	logger *logrus.Logger
	open   func() (backend, error)

	mu         sync.Mutex
	sink       platform.Sink
	dev        backend
	devErr     error
	scanCancel context.CancelFunc
	scanDone   <-chan struct{}
	conns      map[string]*Conn
}

func New(logger *logrus.Logger) *Radio {
	return newRadio(logger, openNative)
}

func newRadio(logger *logrus.Logger, open func() (backend, error)) *Radio {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Radio{logger: logger, open: open, conns: map[string]*Conn{}}
}

// backend opens the native device on first use and keeps it.
func (r *Radio) backend() (backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dev != nil {
		return r.dev, nil
	}
	dev, err := r.open()
	if err != nil {
		r.devErr = device.NormalizeError(err)
		return nil, r.devErr
	}
	r.dev, r.devErr = dev, nil
	return dev, nil
}

func (r *Radio) DeclareCapabilities() map[capability.Feature]capability.Probe {
	probe := func() error {
		_, err := r.backend()
		return err
	}
	return map[capability.Feature]capability.Probe{
		capability.LEScan:      probe,
		capability.GattConnect: probe,
	}
}

func (r *Radio) Attach(sink platform.Sink) {
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
}

func (r *Radio) emit(sig platform.Signal) {
	r.mu.Lock()
	sink := r.sink
	r.mu.Unlock()
	if sink != nil {
		sink.Signal(sig)
	}
}

// PowerState is On once the host device opened; go-ble has no power API.
func (r *Radio) PowerState() device.PowerState {
	if _, err := r.backend(); err != nil {
		return device.PowerOff
	}
	return device.PowerOn
}

func unsupported(op string) error {
	return fmt.Errorf("%w: %s is not available through go-ble", device.ErrUnsupported, op)
}

func (r *Radio) Enable() error          { return unsupported("enable") }
func (r *Radio) Disable() error         { return unsupported("disable") }
func (r *Radio) StartDiscovery() error  { return unsupported("classic discovery") }
func (r *Radio) CancelDiscovery() error { return unsupported("classic discovery") }
func (r *Radio) IsDiscovering() bool    { return false }

func (r *Radio) ScanMode() device.ScanMode { return device.ScanModeNone }

func (r *Radio) SetScanMode(device.ScanMode, time.Duration) error {
	return unsupported("scan mode")
}

func (r *Radio) DiscoverableTimeout() (time.Duration, error) {
	return 0, unsupported("discoverable timeout")
}

func (r *Radio) SetDiscoverableTimeout(time.Duration) error {
	return unsupported("discoverable timeout")
}

func (r *Radio) RestartGatt() error              { return unsupported("gatt restart") }
func (r *Radio) GattReady() (bool, error)        { return false, unsupported("gatt ready") }
func (r *Radio) SetListening(string, bool) error { return unsupported("listening") }

func (r *Radio) StartLEScan() error {
	dev, err := r.backend()
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.scanCancel != nil {
		r.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.scanCancel = cancel
	r.mu.Unlock()

	done := groutine.Go(ctx, "goble-scan", func(ctx context.Context) {
		err := dev.Scan(ctx, r.onAdvertisement)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.WithError(err).Warn("LE scan stopped")
		}
	})

	r.mu.Lock()
	r.scanDone = done
	r.mu.Unlock()
	return nil
}

func (r *Radio) onAdvertisement(a advertisement) {
	adv := platform.Advertisement{
		Name:             a.LocalName(),
		ManufacturerData: a.ManufacturerData(),
		Connectable:      a.Connectable(),
	}
	for _, u := range a.Services() {
		adv.Services = append(adv.Services, u.String())
	}
	if p := a.TxPowerLevel(); p != noTxPower {
		tx := int8(p)
		adv.TxPower = &tx
	}

	r.emit(platform.DeviceFound{
		Address: device.NormalizeAddress(a.Addr().String()),
		Name:    adv.Name,
		RSSI:    int16(a.RSSI()),
		LE:      true,
		Record:  platform.EncodeAdvertisement(adv),
	})
}

func (r *Radio) StopLEScan() error {
	r.mu.Lock()
	cancel, done := r.scanCancel, r.scanDone
	r.scanCancel, r.scanDone = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	if done != nil {
		<-done
	}
	return nil
}

func (r *Radio) Open(address string) (platform.Conn, error) {
	dev, err := r.backend()
	if err != nil {
		return nil, err
	}

	address = device.NormalizeAddress(address)
	c := newConn(r, dev, address)

	r.mu.Lock()
	if old := r.conns[address]; old != nil {
		r.mu.Unlock()
		_ = old.Close()
		r.mu.Lock()
	}
	r.conns[address] = c
	r.mu.Unlock()

	return c, c.Connect()
}

func (r *Radio) forget(c *Conn) {
	r.mu.Lock()
	if r.conns[c.address] == c {
		delete(r.conns, c.address)
	}
	r.mu.Unlock()
}

func (r *Radio) Close() error {
	_ = r.StopLEScan()

	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	dev := r.dev
	r.dev = nil
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	if dev == nil {
		return nil
	}
	return device.NormalizeError(dev.Stop())
}
