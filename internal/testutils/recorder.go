//go:build test

package testutils

import (
	"sync"
	"time"

	"github.com/srg/medlink/internal/bus"
)

// Recorder is a bus listener that keeps every event it receives. Claim
// decides the answer to pairing requests; nil never claims.
type Recorder struct {
	mu     sync.Mutex
	events []bus.Event
	Claim  func(ev bus.PairingEvent) bool
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) add(ev bus.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bus.Event(nil), r.events...)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// Eventually polls until at least n events of type T were recorded.
func Eventually[T bus.Event](r *Recorder, n int, timeout time.Duration) []T {
	deadline := time.Now().Add(timeout)
	for {
		got := Recorded[T](r)
		if len(got) >= n || time.Now().After(deadline) {
			return got
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// Recorded filters the recorded events down to type T.
func Recorded[T bus.Event](r *Recorder) []T {
	var out []T
	for _, ev := range r.Events() {
		if e, ok := ev.(T); ok {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) OnAdapterPowerChanged(ev bus.AdapterPowerChanged)         { r.add(ev) }
func (r *Recorder) OnDiscoveryStateChanged(ev bus.DiscoveryStateChanged)     { r.add(ev) }
func (r *Recorder) OnScanModeChanged(ev bus.ScanModeChanged)                 { r.add(ev) }
func (r *Recorder) OnDeviceFound(ev bus.DeviceFound)                         { r.add(ev) }
func (r *Recorder) OnDeviceInfoChanged(ev bus.DeviceInfoChanged)             { r.add(ev) }
func (r *Recorder) OnDeviceDisappeared(ev bus.DeviceDisappeared)             { r.add(ev) }
func (r *Recorder) OnConnectionStateChanged(ev bus.ConnectionStateChanged)   { r.add(ev) }
func (r *Recorder) OnBondStateChanged(ev bus.BondStateChanged)               { r.add(ev) }
func (r *Recorder) OnGattServiceStateChanged(ev bus.GattServiceStateChanged) { r.add(ev) }
func (r *Recorder) OnServicesDiscovered(ev bus.ServicesDiscovered)           { r.add(ev) }
func (r *Recorder) OnCharacteristicValue(ev bus.CharacteristicValue)         { r.add(ev) }

func (r *Recorder) OnPairingEvent(ev bus.PairingEvent) bool {
	r.add(ev)
	if r.Claim == nil {
		return false
	}
	return r.Claim(ev)
}
