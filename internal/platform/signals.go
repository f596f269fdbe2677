package platform

import "github.com/srg/medlink/internal/device"

// Signal is the closed set of messages a binding sends to its Sink.
type Signal interface {
	signal()
}

// Status is a platform completion status; zero is success.
type Status int

const StatusSuccess Status = 0

func (s Status) OK() bool { return s == StatusSuccess }

type PowerStateChanged struct {
	State device.PowerState
}

type DiscoveryStarted struct{}

type DiscoveryFinished struct{}

type ScanModeChanged struct {
	Mode device.ScanMode
}

// DeviceFound is an inquiry or LE scan result. Record holds the raw
// advertisement bytes for LE results.
type DeviceFound struct {
	Address string
	Name    string
	Class   uint32
	RSSI    int16
	LE      bool
	Record  []byte
	Handle  any
}

type NameChanged struct {
	Address string
	Name    string
}

type ClassChanged struct {
	Address string
	Class   uint32
}

type DeviceDisappeared struct {
	Address string
}

// LinkChanged is an ACL link transition, independent of GATT.
type LinkChanged struct {
	Address string
	State   device.ConnectionState
}

type GattConnectionChanged struct {
	Address string
	Status  Status
	State   device.ConnectionState
}

type BondChanged struct {
	Address string
	State   device.BondState
}

// PairingRequest is delivered through Sink.Pairing, not Signal, because the
// binding needs the claim result.
type PairingRequest struct {
	Address string
	Variant device.PairingVariant
}

type PairingCancel struct {
	Address string
}

type ServicesDiscovered struct {
	Address string
	Status  Status
}

type CharacteristicRead struct {
	Address        string
	Service        string
	Characteristic string
	Value          []byte
	Status         Status
}

// CharacteristicChanged is a notification or indication from the peer.
type CharacteristicChanged struct {
	Address        string
	Service        string
	Characteristic string
	Value          []byte
}

type CharacteristicWrite struct {
	Address        string
	Service        string
	Characteristic string
	Value          []byte
	Status         Status
}

type DescriptorRead struct {
	Address        string
	Service        string
	Characteristic string
	Descriptor     string
	Value          []byte
	Status         Status
}

type DescriptorWrite struct {
	Address        string
	Service        string
	Characteristic string
	Descriptor     string
	Value          []byte
	Status         Status
}

type RSSIRead struct {
	Address string
	RSSI    int16
	Status  Status
}

// GattServiceState is the native GATT-ready signal of bindings that have one.
type GattServiceState struct {
	Ready bool
}

func (PowerStateChanged) signal()     {}
func (DiscoveryStarted) signal()      {}
func (DiscoveryFinished) signal()     {}
func (ScanModeChanged) signal()       {}
func (DeviceFound) signal()           {}
func (NameChanged) signal()           {}
func (ClassChanged) signal()          {}
func (DeviceDisappeared) signal()     {}
func (LinkChanged) signal()           {}
func (GattConnectionChanged) signal() {}
func (BondChanged) signal()           {}
func (PairingCancel) signal()         {}
func (ServicesDiscovered) signal()    {}
func (CharacteristicRead) signal()    {}
func (CharacteristicChanged) signal() {}
func (CharacteristicWrite) signal()   {}
func (DescriptorRead) signal()        {}
func (DescriptorWrite) signal()       {}
func (RSSIRead) signal()              {}
func (GattServiceState) signal()      {}

// SignalAddress returns the peer address a signal is about, or "" for
// adapter-level signals.
func SignalAddress(sig Signal) string {
	switch s := sig.(type) {
	case DeviceFound:
		return s.Address
	case NameChanged:
		return s.Address
	case ClassChanged:
		return s.Address
	case DeviceDisappeared:
		return s.Address
	case LinkChanged:
		return s.Address
	case GattConnectionChanged:
		return s.Address
	case BondChanged:
		return s.Address
	case PairingCancel:
		return s.Address
	case ServicesDiscovered:
		return s.Address
	case CharacteristicRead:
		return s.Address
	case CharacteristicChanged:
		return s.Address
	case CharacteristicWrite:
		return s.Address
	case DescriptorRead:
		return s.Address
	case DescriptorWrite:
		return s.Address
	case RSSIRead:
		return s.Address
	}
	return ""
}
