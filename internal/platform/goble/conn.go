package goble

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/medlink/internal/bledb"
	"github.com/srg/medlink/internal/device"
	"github.com/srg/medlink/internal/groutine"
	"github.com/srg/medlink/internal/platform"
)

const opQueueSize = 64

// Conn runs every GATT operation on its own goroutine, one at a time, and
// reports the result as a signal.
type Conn struct {
	radio   *Radio
	dev     backend
	address string
	logger  *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	ops    chan func(ctx context.Context)

	mu        sync.Mutex
	client    client
	profile   *ble.Profile
	notifying map[string]bool
	connected atomic.Bool
	closed    bool
}

func newConn(r *Radio, dev backend, address string) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		radio:     r,
		dev:       dev,
		address:   address,
		logger:    r.logger.WithField("address", address),
		ctx:       ctx,
		cancel:    cancel,
		ops:       make(chan func(ctx context.Context), opQueueSize),
		notifying: map[string]bool{},
	}
	groutine.Go(ctx, "goble-conn:"+address, c.run)
	return c
}

func (c *Conn) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-c.ops:
			op(ctx)
		}
	}
}

func (c *Conn) enqueue(name string, op func(ctx context.Context)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%s: %w", name, device.ErrClosed)
	}
	select {
	case c.ops <- op:
		return nil
	default:
		return fmt.Errorf("%s: operation queue is full", name)
	}
}

func (c *Conn) Address() string { return c.address }

func (c *Conn) currentClient() client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

func statusOf(err error) platform.Status {
	if err != nil {
		return statusFailure
	}
	return platform.StatusSuccess
}

func (c *Conn) Connect() error {
	return c.enqueue("connect", func(ctx context.Context) {
		if c.connected.Load() {
			c.radio.emit(platform.GattConnectionChanged{Address: c.address, State: device.Connected})
			return
		}

		c.logger.Debug("Dialing BLE device...")
		cl, err := c.dev.Dial(ctx, c.address)
		if err != nil {
			c.logger.WithError(err).Warn("Failed to dial BLE device")
			c.radio.emit(platform.GattConnectionChanged{
				Address: c.address,
				Status:  statusFailure,
				State:   device.Disconnected,
			})
			return
		}

		c.mu.Lock()
		c.client = cl
		c.mu.Unlock()
		c.connected.Store(true)

		c.radio.emit(platform.LinkChanged{Address: c.address, State: device.Connected})
		c.radio.emit(platform.GattConnectionChanged{Address: c.address, State: device.Connected})
		c.monitor(cl)
	})
}

// monitor watches the client's Disconnected channel where the host offers one.
func (c *Conn) monitor(cl client) {
	watched, ok := cl.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		c.logger.Debug("Client does not expose a disconnect channel")
		return
	}
	groutine.Go(c.ctx, "goble-monitor:"+c.address, func(ctx context.Context) {
		select {
		case <-watched.Disconnected():
			c.logger.Warn("Host reported disconnection")
			c.dropped()
		case <-ctx.Done():
		}
	})
}

// dropped reports the link loss once per connection.
func (c *Conn) dropped() {
	if !c.connected.CompareAndSwap(true, false) {
		return
	}
	c.mu.Lock()
	c.client = nil
	c.profile = nil
	c.mu.Unlock()

	c.radio.emit(platform.GattConnectionChanged{Address: c.address, State: device.Disconnected})
	c.radio.emit(platform.LinkChanged{Address: c.address, State: device.Disconnected})
}

func (c *Conn) Disconnect() error {
	return c.enqueue("disconnect", func(context.Context) {
		if cl := c.currentClient(); cl != nil {
			if err := cl.CancelConnection(); err != nil {
				c.logger.WithError(err).Warn("Cancel connection failed")
			}
		}
		c.dropped()
	})
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cl := c.client
	c.mu.Unlock()

	var err error
	if cl != nil && c.connected.Load() {
		err = cl.CancelConnection()
	}
	c.cancel()
	c.radio.forget(c)
	return device.NormalizeError(err)
}

func (c *Conn) DiscoverServices() error {
	return c.enqueue("discover services", func(context.Context) {
		cl := c.currentClient()
		if cl == nil {
			c.radio.emit(platform.ServicesDiscovered{Address: c.address, Status: statusFailure})
			return
		}

		profile, err := cl.DiscoverProfile(true)
		if err != nil {
			c.logger.WithError(err).Warn("Failed to discover profile")
		} else {
			c.mu.Lock()
			c.profile = profile
			c.mu.Unlock()
			c.logger.WithField("services", len(profile.Services)).Debug("Profile discovered")
		}
		c.radio.emit(platform.ServicesDiscovered{Address: c.address, Status: statusOf(err)})
	})
}

func (c *Conn) Services() []platform.Service {
	c.mu.Lock()
	profile := c.profile
	c.mu.Unlock()
	if profile == nil {
		return nil
	}
	return convertProfile(profile)
}

func convertProfile(p *ble.Profile) []platform.Service {
	out := make([]platform.Service, 0, len(p.Services))
	for _, s := range p.Services {
		svc := platform.Service{UUID: bledb.NormalizeUUID(s.UUID.String())}
		for _, ch := range s.Characteristics {
			char := platform.Characteristic{
				UUID:       bledb.NormalizeUUID(ch.UUID.String()),
				Properties: platform.Property(ch.Property),
			}
			for _, d := range ch.Descriptors {
				char.Descriptors = append(char.Descriptors, bledb.NormalizeUUID(d.UUID.String()))
			}
			if ch.CCCD != nil && len(char.Descriptors) == 0 {
				char.Descriptors = append(char.Descriptors, bledb.DescClientCharConfig)
			}
			svc.Characteristics = append(svc.Characteristics, char)
		}
		out = append(out, svc)
	}
	return out
}

// lookup resolves normalized UUIDs against the discovered profile.
func (c *Conn) lookup(service, char string) (client, *ble.Characteristic, error) {
	c.mu.Lock()
	cl, profile := c.client, c.profile
	c.mu.Unlock()

	if cl == nil {
		return nil, nil, device.ErrNotConnected
	}
	if profile == nil {
		return nil, nil, fmt.Errorf("services of %s were not discovered", c.address)
	}
	for _, s := range profile.Services {
		if bledb.NormalizeUUID(s.UUID.String()) != service {
			continue
		}
		for _, ch := range s.Characteristics {
			if bledb.NormalizeUUID(ch.UUID.String()) == char {
				return cl, ch, nil
			}
		}
	}
	return nil, nil, fmt.Errorf("characteristic %s/%s not found", service, char)
}

func (c *Conn) ReadCharacteristic(service, char string) error {
	service, char = bledb.NormalizeUUID(service), bledb.NormalizeUUID(char)
	return c.enqueue("read characteristic", func(context.Context) {
		var value []byte
		cl, ch, err := c.lookup(service, char)
		if err == nil {
			value, err = cl.ReadCharacteristic(ch)
		}
		if err != nil {
			c.logger.WithError(err).WithField("char_uuid", char).Warn("Read failed")
		}
		c.radio.emit(platform.CharacteristicRead{
			Address: c.address, Service: service, Characteristic: char,
			Value: value, Status: statusOf(err),
		})
	})
}

func (c *Conn) WriteCharacteristic(service, char string, value []byte) error {
	service, char = bledb.NormalizeUUID(service), bledb.NormalizeUUID(char)
	value = append([]byte(nil), value...)
	return c.enqueue("write characteristic", func(context.Context) {
		cl, ch, err := c.lookup(service, char)
		if err == nil {
			noRsp := ch.Property&ble.CharWrite == 0 && ch.Property&ble.CharWriteNR != 0
			err = cl.WriteCharacteristic(ch, value, noRsp)
		}
		if err != nil {
			c.logger.WithError(err).WithField("char_uuid", char).Warn("Write failed")
		}
		c.radio.emit(platform.CharacteristicWrite{
			Address: c.address, Service: service, Characteristic: char,
			Value: value, Status: statusOf(err),
		})
	})
}

func findDescriptor(ch *ble.Characteristic, desc string) *ble.Descriptor {
	for _, d := range ch.Descriptors {
		if bledb.NormalizeUUID(d.UUID.String()) == desc {
			return d
		}
	}
	return nil
}

func (c *Conn) ReadDescriptor(service, char, desc string) error {
	service, char, desc = bledb.NormalizeUUID(service), bledb.NormalizeUUID(char), bledb.NormalizeUUID(desc)
	return c.enqueue("read descriptor", func(context.Context) {
		var value []byte
		cl, ch, err := c.lookup(service, char)
		if err == nil {
			if d := findDescriptor(ch, desc); d != nil {
				value, err = cl.ReadDescriptor(d)
			} else {
				err = fmt.Errorf("descriptor %s not found", desc)
			}
		}
		c.radio.emit(platform.DescriptorRead{
			Address: c.address, Service: service, Characteristic: char, Descriptor: desc,
			Value: value, Status: statusOf(err),
		})
	})
}

// WriteDescriptor turns CCCD writes into go-ble subscriptions, since the host
// stack owns the CCCD and wants a handler with it.
func (c *Conn) WriteDescriptor(service, char, desc string, value []byte) error {
	service, char, desc = bledb.NormalizeUUID(service), bledb.NormalizeUUID(char), bledb.NormalizeUUID(desc)
	value = append([]byte(nil), value...)
	return c.enqueue("write descriptor", func(context.Context) {
		cl, ch, err := c.lookup(service, char)
		if err == nil {
			switch {
			case bledb.IsClientCharConfig(desc):
				err = c.subscribe(cl, ch, service, char, value)
			default:
				if d := findDescriptor(ch, desc); d != nil {
					err = cl.WriteDescriptor(d, value)
				} else {
					err = fmt.Errorf("descriptor %s not found", desc)
				}
			}
		}
		if err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"char_uuid": char,
				"desc_uuid": desc,
			}).Warn("Descriptor write failed")
		}
		c.radio.emit(platform.DescriptorWrite{
			Address: c.address, Service: service, Characteristic: char, Descriptor: desc,
			Value: value, Status: statusOf(err),
		})
	})
}

func (c *Conn) subscribe(cl client, ch *ble.Characteristic, service, char string, value []byte) error {
	if len(value) == 0 || value[0]&0x03 == 0 {
		indicate := ch.Property&ble.CharNotify == 0 && ch.Property&ble.CharIndicate != 0
		return cl.Unsubscribe(ch, indicate)
	}

	indicate := value[0]&0x02 != 0
	key := service + "/" + char
	return cl.Subscribe(ch, indicate, func(data []byte) {
		c.mu.Lock()
		on := c.notifying[key]
		c.mu.Unlock()
		if !on {
			return
		}
		c.radio.emit(platform.CharacteristicChanged{
			Address:        c.address,
			Service:        service,
			Characteristic: char,
			Value:          append([]byte(nil), data...),
		})
	})
}

func (c *Conn) SetCharacteristicNotification(service, char string, enabled bool) error {
	key := bledb.NormalizeUUID(service) + "/" + bledb.NormalizeUUID(char)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return device.ErrClosed
	}
	c.notifying[key] = enabled
	return nil
}

func (c *Conn) ReadRSSI() error {
	return c.enqueue("read rssi", func(context.Context) {
		cl := c.currentClient()
		if cl == nil {
			c.radio.emit(platform.RSSIRead{Address: c.address, Status: statusFailure})
			return
		}
		c.radio.emit(platform.RSSIRead{Address: c.address, RSSI: int16(cl.ReadRSSI())})
	})
}
