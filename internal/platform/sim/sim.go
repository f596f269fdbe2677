// Package sim is a scriptable in-memory radio. Tests drive it by injecting
// signals; with auto-complete enabled it answers every operation on its own
// and can feed notifications, which is what --simulate runs on.
package sim

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/srg/medlink/internal/bledb"
	"github.com/srg/medlink/internal/capability"
	"github.com/srg/medlink/internal/device"
	"github.com/srg/medlink/internal/platform"
)

// Peripheral is a simulated remote device.
type Peripheral struct {
	Address  string
	Name     string
	RSSI     int16
	Services []platform.Service
	// Values holds read results keyed by characteristic UUID.
	Values map[string][]byte
}

// Option configures a Radio.
type Option func(*Radio)

// WithFeatures replaces the declared feature list.
func WithFeatures(features ...capability.Feature) Option {
	return func(r *Radio) {
		r.features = append([]capability.Feature(nil), features...)
	}
}

func WithPower(state device.PowerState) Option {
	return func(r *Radio) { r.power = state }
}

// WithAutoComplete makes every operation complete immediately with success.
func WithAutoComplete() Option {
	return func(r *Radio) { r.auto = true }
}

func WithPeripherals(ps ...Peripheral) Option {
	return func(r *Radio) {
		for _, p := range ps {
			p.Address = device.NormalizeAddress(p.Address)
			r.peripherals[p.Address] = p
			r.order = append(r.order, p.Address)
		}
	}
}

// Radio implements platform.Radio in memory.
type Radio struct {
	mu sync.Mutex

	sink     platform.Sink
	features []capability.Feature
	auto     bool

	power       device.PowerState
	discovering bool
	leScanning  bool
	scanMode    device.ScanMode
	discTimeout time.Duration
	gattReady   bool
	listening   map[string]bool

	peripherals map[string]Peripheral
	order       []string
	conns       map[string]*Conn

	calls    []string
	failures map[string]error
	panics   map[string]bool
	closed   bool
}

// New creates a radio that is powered on and declares every feature.
func New(opts ...Option) *Radio {
	r := &Radio{
		features: []capability.Feature{
			capability.LEScan,
			capability.GattConnect,
			capability.VendorRestart,
			capability.VendorListen,
			capability.VendorReady,
		},
		power:       device.PowerOn,
		scanMode:    device.ScanModeConnectable,
		discTimeout: 120 * time.Second,
		gattReady:   true,
		listening:   map[string]bool{},
		peripherals: map[string]Peripheral{},
		conns:       map[string]*Conn{},
		failures:    map[string]error{},
		panics:      map[string]bool{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Radio) DeclareCapabilities() map[capability.Feature]capability.Probe {
	probes := make(map[capability.Feature]capability.Probe, len(r.features))
	for _, f := range r.features {
		f := f
		probes[f] = func() error { return r.check("Probe " + string(f)) }
	}
	return probes
}

func (r *Radio) Attach(sink platform.Sink) {
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
}

// Fail makes every later call of op return err; a nil err clears it.
// op is the method name, e.g. "StartLEScan", or "Probe le_scan" for a probe.
func (r *Radio) Fail(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failures, op)
		return
	}
	r.failures[op] = err
}

// Panic makes every later call of op panic.
func (r *Radio) Panic(op string) {
	r.mu.Lock()
	r.panics[op] = true
	r.mu.Unlock()
}

// check records a call and applies configured failures.
func (r *Radio) check(call string) error {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	op := strings.Fields(call)[0]
	if strings.HasPrefix(call, "Probe ") {
		op = call
	}
	err := r.failures[op]
	doPanic := r.panics[op]
	r.mu.Unlock()

	if doPanic {
		panic(fmt.Sprintf("sim: %s exploded", op))
	}
	return err
}

// Calls returns every recorded call in order, e.g. "Open aa:bb".
func (r *Radio) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// CallCount counts recorded calls whose text starts with prefix.
func (r *Radio) CallCount(prefix string) int {
	n := 0
	for _, c := range r.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (r *Radio) ResetCalls() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

// Emit sends sig to the attached sink.
func (r *Radio) Emit(sig platform.Signal) {
	r.mu.Lock()
	sink := r.sink
	r.mu.Unlock()
	if sink != nil {
		sink.Signal(sig)
	}
}

// RequestPairing delivers a pairing request and returns the claim result.
func (r *Radio) RequestPairing(address string, variant device.PairingVariant) bool {
	r.mu.Lock()
	sink := r.sink
	r.mu.Unlock()
	if sink == nil {
		return false
	}
	return sink.Pairing(platform.PairingRequest{Address: device.NormalizeAddress(address), Variant: variant})
}

func (r *Radio) PowerState() device.PowerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.power
}

func (r *Radio) setPower(states ...device.PowerState) {
	for _, s := range states {
		r.mu.Lock()
		r.power = s
		r.mu.Unlock()
		r.Emit(platform.PowerStateChanged{State: s})
	}
}

func (r *Radio) Enable() error {
	if err := r.check("Enable"); err != nil {
		return err
	}
	if r.auto {
		r.setPower(device.PowerTurningOn, device.PowerOn)
	}
	return nil
}

func (r *Radio) Disable() error {
	if err := r.check("Disable"); err != nil {
		return err
	}
	if r.auto {
		r.setPower(device.PowerTurningOff, device.PowerOff)
	}
	return nil
}

// SetPower drives a power transition as the platform would report it.
func (r *Radio) SetPower(states ...device.PowerState) {
	r.setPower(states...)
}

func (r *Radio) StartDiscovery() error {
	if err := r.check("StartDiscovery"); err != nil {
		return err
	}
	r.mu.Lock()
	r.discovering = true
	r.mu.Unlock()
	if r.auto {
		r.Emit(platform.DiscoveryStarted{})
		for _, p := range r.snapshotPeripherals() {
			r.Emit(platform.DeviceFound{Address: p.Address, Name: p.Name, RSSI: p.RSSI})
		}
	}
	return nil
}

func (r *Radio) CancelDiscovery() error {
	if err := r.check("CancelDiscovery"); err != nil {
		return err
	}
	r.mu.Lock()
	r.discovering = false
	r.mu.Unlock()
	if r.auto {
		r.Emit(platform.DiscoveryFinished{})
	}
	return nil
}

func (r *Radio) IsDiscovering() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.discovering
}

func (r *Radio) StartLEScan() error {
	if err := r.check("StartLEScan"); err != nil {
		return err
	}
	r.mu.Lock()
	r.leScanning = true
	r.mu.Unlock()
	if r.auto {
		for _, p := range r.snapshotPeripherals() {
			r.Emit(platform.DeviceFound{
				Address: p.Address,
				Name:    p.Name,
				RSSI:    p.RSSI,
				LE:      true,
				Record:  platform.EncodeAdvertisement(p.advertisement()),
			})
		}
	}
	return nil
}

func (r *Radio) StopLEScan() error {
	if err := r.check("StopLEScan"); err != nil {
		return err
	}
	r.mu.Lock()
	r.leScanning = false
	r.mu.Unlock()
	return nil
}

// LEScanning reports whether the radio thinks an LE scan is running.
func (r *Radio) LEScanning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leScanning
}

func (r *Radio) ScanMode() device.ScanMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scanMode
}

func (r *Radio) SetScanMode(mode device.ScanMode, duration time.Duration) error {
	if err := r.check(fmt.Sprintf("SetScanMode %s %s", mode, duration)); err != nil {
		return err
	}
	r.mu.Lock()
	r.scanMode = mode
	r.mu.Unlock()
	if r.auto {
		r.Emit(platform.ScanModeChanged{Mode: mode})
	}
	return nil
}

func (r *Radio) DiscoverableTimeout() (time.Duration, error) {
	if err := r.check("DiscoverableTimeout"); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.discTimeout, nil
}

func (r *Radio) SetDiscoverableTimeout(d time.Duration) error {
	if err := r.check(fmt.Sprintf("SetDiscoverableTimeout %s", d)); err != nil {
		return err
	}
	r.mu.Lock()
	r.discTimeout = d
	r.mu.Unlock()
	return nil
}

func (r *Radio) RestartGatt() error {
	if err := r.check("RestartGatt"); err != nil {
		return err
	}
	if r.auto {
		r.Emit(platform.GattServiceState{Ready: false})
		r.Emit(platform.GattServiceState{Ready: true})
	}
	return nil
}

func (r *Radio) GattReady() (bool, error) {
	if err := r.check("GattReady"); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gattReady, nil
}

func (r *Radio) SetListening(address string, on bool) error {
	if err := r.check(fmt.Sprintf("SetListening %s %t", address, on)); err != nil {
		return err
	}
	r.mu.Lock()
	r.listening[address] = on
	r.mu.Unlock()
	return nil
}

// Listening reports the vendor listening flag for address.
func (r *Radio) Listening(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listening[address]
}

func (r *Radio) Open(address string) (platform.Conn, error) {
	address = device.NormalizeAddress(address)
	if err := r.check("Open " + address); err != nil {
		return nil, err
	}

	c := &Conn{radio: r, address: address, notifying: map[string]bool{}}
	r.mu.Lock()
	r.conns[address] = c
	r.mu.Unlock()

	if r.auto {
		c.completeConnect()
	}
	return c, nil
}

// Conn returns the most recent connection object opened for address.
func (r *Radio) Conn(address string) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[device.NormalizeAddress(address)]
}

func (r *Radio) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "Close")
	r.closed = true
	return nil
}

func (r *Radio) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Radio) snapshotPeripherals() []Peripheral {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Peripheral, 0, len(r.order))
	for _, addr := range r.order {
		out = append(out, r.peripherals[addr])
	}
	return out
}

func (r *Radio) peripheral(address string) (Peripheral, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peripherals[address]
	return p, ok
}

func (p Peripheral) advertisement() platform.Advertisement {
	adv := platform.Advertisement{Name: p.Name, Connectable: true}
	for _, s := range p.Services {
		adv.Services = append(adv.Services, s.UUID)
	}
	return adv
}

// Connected injects a successful GATT connection for address.
func (r *Radio) Connected(address string) {
	address = device.NormalizeAddress(address)
	r.Emit(platform.LinkChanged{Address: address, State: device.Connected})
	r.Emit(platform.GattConnectionChanged{Address: address, State: device.Connected})
}

// Disconnected injects a GATT disconnection for address.
func (r *Radio) Disconnected(address string) {
	address = device.NormalizeAddress(address)
	r.Emit(platform.GattConnectionChanged{Address: address, State: device.Disconnected})
	r.Emit(platform.LinkChanged{Address: address, State: device.Disconnected})
}

// Bond injects a bond state change for address.
func (r *Radio) Bond(address string, state device.BondState) {
	r.Emit(platform.BondChanged{Address: device.NormalizeAddress(address), State: state})
}

// Notify injects a characteristic notification.
func (r *Radio) Notify(address, service, char string, value []byte) {
	r.Emit(platform.CharacteristicChanged{
		Address:        device.NormalizeAddress(address),
		Service:        bledb.NormalizeUUID(service),
		Characteristic: bledb.NormalizeUUID(char),
		Value:          value,
	})
}

// Feed emits generated notifications for every characteristic with local
// notification enabled, every interval, until ctx is done.
func (r *Radio) Feed(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var tick uint16
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		tick++

		r.mu.Lock()
		conns := make([]*Conn, 0, len(r.conns))
		for _, c := range r.conns {
			conns = append(conns, c)
		}
		r.mu.Unlock()

		for _, c := range conns {
			for _, key := range c.notifyingKeys() {
				svc, char, _ := strings.Cut(key, "/")
				r.Notify(c.address, svc, char, generate(char, tick))
			}
		}
	}
}

// generate produces a plausible payload for the well-known characteristics.
func generate(char string, tick uint16) []byte {
	switch char {
	case bledb.CharHeartRateMeasurement:
		return []byte{0x06, byte(60 + tick%30)}
	case bledb.CharNoninOximetry:
		pulse := 65 + tick%20
		return []byte{0x0a, 0x15, 0x1d, 0x00, 0x00, byte(tick), byte(tick >> 8), byte(95 + tick%4), byte(pulse >> 8), byte(pulse)}
	case bledb.CharBatteryLevel:
		return []byte{byte(100 - tick%100)}
	default:
		return []byte{byte(tick), byte(tick >> 8)}
	}
}
