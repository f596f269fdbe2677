package device

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// Device is the process-wide record of one remote peer. The address is the
// identity key and never changes; name and class arrive asynchronously.
//
// BondState and LinkState are written only by the manager worker. Every
// accessor is safe to call from any goroutine.
type Device struct {
	address string

	mu     sync.RWMutex
	name   string
	class  uint32
	handle any

	bond atomic.Int32
	link atomic.Int32
}

// NormalizeAddress trims and lowercases a device address so that MAC and
// platform identifiers compare the same way regardless of source.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// ValidateAddress returns the normalized address, or an InvalidArgument error.
func ValidateAddress(address string) (string, error) {
	addr := NormalizeAddress(address)
	if addr == "" {
		return "", InvalidArgument("address", "is empty")
	}
	return addr, nil
}

// NewDevice creates a record for address. Callers normally go through Registry.
func NewDevice(address string) *Device {
	return &Device{address: NormalizeAddress(address)}
}

func (d *Device) Address() string { return d.address }

func (d *Device) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.name
}

// SetName updates the name and reports whether it changed. Empty names are ignored.
func (d *Device) SetName(name string) bool {
	if name == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.name == name {
		return false
	}
	d.name = name
	return true
}

func (d *Device) Class() uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.class
}

// SetClass updates the class of device and reports whether it changed.
func (d *Device) SetClass(class uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.class == class {
		return false
	}
	d.class = class
	return true
}

// Handle returns the opaque platform handle, if the binding attached one.
func (d *Device) Handle() any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handle
}

func (d *Device) SetHandle(h any) {
	d.mu.Lock()
	d.handle = h
	d.mu.Unlock()
}

func (d *Device) BondState() BondState {
	return BondState(d.bond.Load())
}

// SetBondState stores s and returns the previous value and whether it changed.
func (d *Device) SetBondState(s BondState) (BondState, bool) {
	prev := BondState(d.bond.Swap(int32(s)))
	return prev, prev != s
}

// LinkState is the ACL link state as reported by the platform, independent
// of any GATT connection on top of it.
func (d *Device) LinkState() ConnectionState {
	return ConnectionState(d.link.Load())
}

// SetLinkState stores s and returns the previous value and whether it changed.
func (d *Device) SetLinkState(s ConnectionState) (ConnectionState, bool) {
	prev := ConnectionState(d.link.Swap(int32(s)))
	return prev, prev != s
}

func (d *Device) String() string {
	if name := d.Name(); name != "" {
		return fmt.Sprintf("%s [%s]", name, d.address)
	}
	return d.address
}
