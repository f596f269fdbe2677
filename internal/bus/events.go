package bus

import (
	"github.com/srg/medlink/internal/decoder"
	"github.com/srg/medlink/internal/device"
)

// Event is the closed set of notifications carried by the bus.
type Event interface {
	event()
}

// Transport distinguishes a GATT connection change from a raw ACL link change.
type Transport int

const (
	TransportGatt Transport = iota
	TransportLink
)

func (t Transport) String() string {
	if t == TransportLink {
		return "link"
	}
	return "gatt"
}

type AdapterPowerChanged struct {
	State device.PowerState
}

type DiscoveryStateChanged struct {
	Started bool
}

type ScanModeChanged struct {
	Mode device.ScanMode
}

// DeviceFound carries the advertisement record for LE results; classic
// inquiry results have LE=false and no record.
type DeviceFound struct {
	Device *device.Device
	RSSI   int16
	LE     bool
	Record []byte
}

type DeviceInfoChanged struct {
	Device *device.Device
	What   device.InfoUpdate
}

type DeviceDisappeared struct {
	Device *device.Device
}

type ConnectionStateChanged struct {
	Device    *device.Device
	Previous  device.ConnectionState
	State     device.ConnectionState
	Transport Transport
}

type BondStateChanged struct {
	Device   *device.Device
	Previous device.BondState
	State    device.BondState
}

// PairingEvent is a pairing request or, with Requested=false, its cancellation.
type PairingEvent struct {
	Device    *device.Device
	Requested bool
	Variant   device.PairingVariant
}

type GattServiceStateChanged struct {
	Ready bool
}

type ServicesDiscovered struct {
	Device   *device.Device
	Services []string
	Err      error
}

// CharacteristicValue is a read result, a write echo, or a notification.
type CharacteristicValue struct {
	Device         *device.Device
	Service        string
	Characteristic string
	Value          []byte
	Reading        decoder.Reading
	Notification   bool
}

func (AdapterPowerChanged) event()     {}
func (DiscoveryStateChanged) event()   {}
func (ScanModeChanged) event()         {}
func (DeviceFound) event()             {}
func (DeviceInfoChanged) event()       {}
func (DeviceDisappeared) event()       {}
func (ConnectionStateChanged) event()  {}
func (BondStateChanged) event()        {}
func (PairingEvent) event()            {}
func (GattServiceStateChanged) event() {}
func (ServicesDiscovered) event()      {}
func (CharacteristicValue) event()     {}
