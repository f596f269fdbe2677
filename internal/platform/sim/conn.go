package sim

import (
	"fmt"
	"sort"
	"sync"

	"github.com/srg/medlink/internal/bledb"
	"github.com/srg/medlink/internal/device"
	"github.com/srg/medlink/internal/platform"
)

// Conn is a simulated GATT client connection.
type Conn struct {
	radio   *Radio
	address string

	mu        sync.Mutex
	services  []platform.Service
	notifying map[string]bool
	closed    bool
}

func (c *Conn) Address() string { return c.address }

func (c *Conn) call(op string, args ...any) error {
	text := op + " " + c.address
	for _, a := range args {
		text += fmt.Sprintf(" %v", a)
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if err := c.radio.check(text); err != nil {
		return err
	}
	if closed {
		return device.ErrNotInitialized
	}
	return nil
}

func (c *Conn) completeConnect() {
	c.radio.Connected(c.address)
}

func (c *Conn) Connect() error {
	if err := c.call("Connect"); err != nil {
		return err
	}
	if c.radio.auto {
		c.completeConnect()
	}
	return nil
}

func (c *Conn) Disconnect() error {
	if err := c.call("Disconnect"); err != nil {
		return err
	}
	if c.radio.auto {
		c.radio.Disconnected(c.address)
	}
	return nil
}

func (c *Conn) Close() error {
	c.radio.check("Close " + c.address)
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *Conn) DiscoverServices() error {
	if err := c.call("DiscoverServices"); err != nil {
		return err
	}
	if c.radio.auto {
		c.CompleteDiscovery(platform.StatusSuccess)
	}
	return nil
}

// CompleteDiscovery publishes the peripheral profile and reports discovery done.
func (c *Conn) CompleteDiscovery(status platform.Status) {
	if status.OK() {
		if p, ok := c.radio.peripheral(c.address); ok {
			c.mu.Lock()
			c.services = p.Services
			c.mu.Unlock()
		}
	}
	c.radio.Emit(platform.ServicesDiscovered{Address: c.address, Status: status})
}

func (c *Conn) Services() []platform.Service {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]platform.Service(nil), c.services...)
}

func (c *Conn) ReadCharacteristic(service, char string) error {
	if err := c.call("ReadCharacteristic", service, char); err != nil {
		return err
	}
	if c.radio.auto {
		var value []byte
		if p, ok := c.radio.peripheral(c.address); ok {
			value = p.Values[char]
		}
		c.radio.Emit(platform.CharacteristicRead{
			Address: c.address, Service: service, Characteristic: char, Value: value,
		})
	}
	return nil
}

func (c *Conn) WriteCharacteristic(service, char string, value []byte) error {
	if err := c.call("WriteCharacteristic", service, char, fmt.Sprintf("%X", value)); err != nil {
		return err
	}
	if c.radio.auto {
		c.radio.Emit(platform.CharacteristicWrite{
			Address: c.address, Service: service, Characteristic: char, Value: value,
		})
	}
	return nil
}

func (c *Conn) ReadDescriptor(service, char, desc string) error {
	if err := c.call("ReadDescriptor", service, char, desc); err != nil {
		return err
	}
	if c.radio.auto {
		c.radio.Emit(platform.DescriptorRead{
			Address: c.address, Service: service, Characteristic: char, Descriptor: desc,
			Value: platform.DisableNotificationValue,
		})
	}
	return nil
}

func (c *Conn) WriteDescriptor(service, char, desc string, value []byte) error {
	if err := c.call("WriteDescriptor", service, char, desc, fmt.Sprintf("%X", value)); err != nil {
		return err
	}
	if c.radio.auto {
		c.ConfirmDescriptorWrite(service, char, desc, value, platform.StatusSuccess)
	}
	return nil
}

// ConfirmDescriptorWrite reports completion of a descriptor write.
func (c *Conn) ConfirmDescriptorWrite(service, char, desc string, value []byte, status platform.Status) {
	c.radio.Emit(platform.DescriptorWrite{
		Address:        c.address,
		Service:        bledb.NormalizeUUID(service),
		Characteristic: bledb.NormalizeUUID(char),
		Descriptor:     bledb.NormalizeUUID(desc),
		Value:          value,
		Status:         status,
	})
}

// ConfirmCharacteristicWrite reports completion of a characteristic write.
func (c *Conn) ConfirmCharacteristicWrite(service, char string, value []byte, status platform.Status) {
	c.radio.Emit(platform.CharacteristicWrite{
		Address:        c.address,
		Service:        bledb.NormalizeUUID(service),
		Characteristic: bledb.NormalizeUUID(char),
		Value:          value,
		Status:         status,
	})
}

func (c *Conn) SetCharacteristicNotification(service, char string, enabled bool) error {
	if err := c.call("SetCharacteristicNotification", service, char, enabled); err != nil {
		return err
	}
	c.mu.Lock()
	c.notifying[service+"/"+char] = enabled
	c.mu.Unlock()
	return nil
}

// Notifying reports the local notification switch for a characteristic.
func (c *Conn) Notifying(service, char string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifying[service+"/"+char]
}

func (c *Conn) notifyingKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []string
	for k, on := range c.notifying {
		if on {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (c *Conn) ReadRSSI() error {
	if err := c.call("ReadRSSI"); err != nil {
		return err
	}
	if c.radio.auto {
		rssi := int16(-60)
		if p, ok := c.radio.peripheral(c.address); ok && p.RSSI != 0 {
			rssi = p.RSSI
		}
		c.radio.Emit(platform.RSSIRead{Address: c.address, RSSI: rssi})
	}
	return nil
}
