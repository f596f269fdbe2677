package device

import "fmt"

// ConnectionState is the lifecycle state of a GATT connection or an ACL link.
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Disconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Disconnecting:
		return "Disconnecting"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int32(s))
	}
}

// BondState tracks pairing progress independently of the connection.
type BondState int32

const (
	BondNone BondState = iota
	Bonding
	Bonded
)

func (s BondState) String() string {
	switch s {
	case BondNone:
		return "None"
	case Bonding:
		return "Bonding"
	case Bonded:
		return "Bonded"
	default:
		return fmt.Sprintf("BondState(%d)", int32(s))
	}
}

// PowerState is the adapter radio state.
type PowerState int32

const (
	PowerOff PowerState = iota
	PowerTurningOn
	PowerOn
	PowerTurningOff
)

func (s PowerState) String() string {
	switch s {
	case PowerOff:
		return "OFF"
	case PowerTurningOn:
		return "Turning On"
	case PowerOn:
		return "ON"
	case PowerTurningOff:
		return "Turning Off"
	default:
		return fmt.Sprintf("PowerState(%d)", int32(s))
	}
}

// ScanMode is the classic inquiry/page scan mode of the local adapter.
type ScanMode int32

const (
	ScanModeNone ScanMode = iota
	ScanModeConnectable
	ScanModeConnectableDiscoverable
)

func (m ScanMode) String() string {
	switch m {
	case ScanModeNone:
		return "NONE"
	case ScanModeConnectable:
		return "Connectable"
	case ScanModeConnectableDiscoverable:
		return "Connectable/Discoverable"
	default:
		return fmt.Sprintf("ScanMode(%d)", int32(m))
	}
}

// InfoUpdate names the device attribute that changed.
type InfoUpdate int

const (
	InfoName  InfoUpdate = 1
	InfoClass InfoUpdate = 2
)

func (u InfoUpdate) String() string {
	switch u {
	case InfoName:
		return "name"
	case InfoClass:
		return "class"
	default:
		return fmt.Sprintf("InfoUpdate(%d)", int(u))
	}
}

// PairingVariant identifies what a pairing request asks of the local side.
// Values follow the platform numbering so bindings can pass them through.
type PairingVariant int

const (
	PairingPin                 PairingVariant = 0
	PairingPasskey             PairingVariant = 1
	PairingPasskeyConfirmation PairingVariant = 2
	PairingConsent             PairingVariant = 3
	PairingDisplayPasskey      PairingVariant = 4
	PairingDisplayPin          PairingVariant = 5
	PairingOOBConsent          PairingVariant = 6
)

func (v PairingVariant) String() string {
	switch v {
	case PairingPin:
		return "PIN"
	case PairingPasskey:
		return "PASSKEY"
	case PairingPasskeyConfirmation:
		return "PASSKEY_CONFIRMATION"
	case PairingConsent:
		return "CONSENT"
	case PairingDisplayPasskey:
		return "DISPLAY_PASSKEY"
	case PairingDisplayPin:
		return "DISPLAY_PIN"
	case PairingOOBConsent:
		return "OOB_CONSENT"
	default:
		return fmt.Sprintf("PairingVariant(%d)", int(v))
	}
}
