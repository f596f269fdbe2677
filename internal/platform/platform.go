// Package platform defines the narrow contract between the manager and a
// native radio binding. Bindings report every completion and state change
// back as a Signal through the Sink they were attached to.
package platform

import (
	"time"

	"github.com/srg/medlink/internal/capability"
	"github.com/srg/medlink/internal/device"
)

// Sink receives platform signals. Signal must not block; Pairing blocks until
// the request is arbitrated and reports whether a listener claimed it.
type Sink interface {
	Signal(sig Signal)
	Pairing(req PairingRequest) bool
}

// Radio is the local adapter.
type Radio interface {
	capability.Declarer

	// Attach sets the signal destination. Called once before any other method.
	Attach(sink Sink)

	PowerState() device.PowerState
	Enable() error
	Disable() error

	StartDiscovery() error
	CancelDiscovery() error
	IsDiscovering() bool

	StartLEScan() error
	StopLEScan() error

	ScanMode() device.ScanMode
	SetScanMode(mode device.ScanMode, duration time.Duration) error
	DiscoverableTimeout() (time.Duration, error)
	SetDiscoverableTimeout(d time.Duration) error

	// Vendor hooks, gated by the matching capability.
	RestartGatt() error
	GattReady() (bool, error)
	SetListening(address string, on bool) error

	// Open allocates a connection object for address and starts connecting.
	Open(address string) (Conn, error)

	Close() error
}

// Conn is a GATT client connection to one peer. Every operation completes
// asynchronously with a matching Signal.
type Conn interface {
	Address() string

	// Connect reconnects a previously opened connection object.
	Connect() error
	Disconnect() error
	Close() error

	DiscoverServices() error
	Services() []Service

	ReadCharacteristic(service, char string) error
	WriteCharacteristic(service, char string, value []byte) error
	ReadDescriptor(service, char, desc string) error
	WriteDescriptor(service, char, desc string, value []byte) error

	// SetCharacteristicNotification toggles local delivery of notifications;
	// the remote side is switched through the CCCD descriptor.
	SetCharacteristicNotification(service, char string, enabled bool) error

	ReadRSSI() error
}

// Service is a discovered GATT service with its characteristics.
type Service struct {
	UUID            string
	Characteristics []Characteristic
}

type Characteristic struct {
	UUID        string
	Properties  Property
	Descriptors []string
}

// Property is the GATT characteristic property bit set.
type Property uint8

const (
	PropBroadcast       Property = 0x01
	PropRead            Property = 0x02
	PropWriteNoResponse Property = 0x04
	PropWrite           Property = 0x08
	PropNotify          Property = 0x10
	PropIndicate        Property = 0x20
)

// FindCharacteristic looks up a characteristic by normalized UUIDs.
func FindCharacteristic(services []Service, service, char string) (Characteristic, bool) {
	for _, s := range services {
		if s.UUID != service {
			continue
		}
		for _, c := range s.Characteristics {
			if c.UUID == char {
				return c, true
			}
		}
	}
	return Characteristic{}, false
}

// CCCD values written to enable or disable notifications.
var (
	EnableNotificationValue  = []byte{0x01, 0x00}
	EnableIndicationValue    = []byte{0x02, 0x00}
	DisableNotificationValue = []byte{0x00, 0x00}
)
