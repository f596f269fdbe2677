package goble

import (
	"context"

	"github.com/go-ble/ble"
)

// DeviceFactory creates the native go-ble device (can be overridden in tests)
var DeviceFactory = newNativeDevice

// advertisement is the part of ble.Advertisement the scanner reads.
type advertisement interface {
	LocalName() string
	ManufacturerData() []byte
	Services() []ble.UUID
	TxPowerLevel() int
	Connectable() bool
	RSSI() int
	Addr() ble.Addr
}

// client is the part of ble.Client a connection drives.
type client interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	ReadDescriptor(d *ble.Descriptor) ([]byte, error)
	WriteDescriptor(d *ble.Descriptor, value []byte) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	ReadRSSI() int
	CancelConnection() error
}

// backend hides ble.Device so tests can replace the radio underneath.
type backend interface {
	Scan(ctx context.Context, handler func(advertisement)) error
	Dial(ctx context.Context, address string) (client, error)
	Stop() error
}

type nativeBackend struct {
	dev ble.Device
}

func (n nativeBackend) Scan(ctx context.Context, handler func(advertisement)) error {
	return n.dev.Scan(ctx, true, func(a ble.Advertisement) { handler(a) })
}

func (n nativeBackend) Dial(ctx context.Context, address string) (client, error) {
	c, err := n.dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (n nativeBackend) Stop() error {
	return n.dev.Stop()
}

func openNative() (backend, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, err
	}
	ble.SetDefaultDevice(dev)
	return nativeBackend{dev: dev}, nil
}
