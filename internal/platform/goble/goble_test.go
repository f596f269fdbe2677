package goble

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/srg/medlink/internal/bledb"
	"github.com/srg/medlink/internal/capability"
	"github.com/srg/medlink/internal/device"
	"github.com/srg/medlink/internal/platform"
)

type mockBackend struct {
	mock.Mock
	adverts []advertisement
}

func (m *mockBackend) Scan(ctx context.Context, handler func(advertisement)) error {
	for _, a := range m.adverts {
		handler(a)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *mockBackend) Dial(ctx context.Context, address string) (client, error) {
	args := m.Called(address)
	cl, _ := args.Get(0).(client)
	return cl, args.Error(1)
}

func (m *mockBackend) Stop() error { return m.Called().Error(0) }

type mockClient struct {
	mock.Mock
	disconnected chan struct{}
}

func (m *mockClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := m.Called(force)
	p, _ := args.Get(0).(*ble.Profile)
	return p, args.Error(1)
}

func (m *mockClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c.UUID.String())
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

func (m *mockClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	return m.Called(c.UUID.String(), value, noRsp).Error(0)
}

func (m *mockClient) ReadDescriptor(d *ble.Descriptor) ([]byte, error) {
	args := m.Called(d.UUID.String())
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

func (m *mockClient) WriteDescriptor(d *ble.Descriptor, value []byte) error {
	return m.Called(d.UUID.String(), value).Error(0)
}

func (m *mockClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	return m.Called(c.UUID.String(), ind, h).Error(0)
}

func (m *mockClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	return m.Called(c.UUID.String(), ind).Error(0)
}

func (m *mockClient) ReadRSSI() int { return m.Called().Int(0) }

func (m *mockClient) CancelConnection() error { return m.Called().Error(0) }

func (m *mockClient) Disconnected() <-chan struct{} { return m.disconnected }

type fakeAdvertisement struct {
	name     string
	addr     string
	services []ble.UUID
	tx       int
	rssi     int
}

func (a fakeAdvertisement) LocalName() string        { return a.name }
func (a fakeAdvertisement) ManufacturerData() []byte { return nil }
func (a fakeAdvertisement) Services() []ble.UUID     { return a.services }
func (a fakeAdvertisement) TxPowerLevel() int        { return a.tx }
func (a fakeAdvertisement) Connectable() bool        { return true }
func (a fakeAdvertisement) RSSI() int                { return a.rssi }
func (a fakeAdvertisement) Addr() ble.Addr           { return ble.NewAddr(a.addr) }

type chanSink chan platform.Signal

func (s chanSink) Signal(sig platform.Signal)           { s <- sig }
func (s chanSink) Pairing(platform.PairingRequest) bool { return false }

func (s chanSink) next(t *testing.T) platform.Signal {
	t.Helper()
	select {
	case sig := <-s:
		return sig
	case <-time.After(2 * time.Second):
		t.Fatal("no signal arrived")
		return nil
	}
}

func heartRateProfile() *ble.Profile {
	return &ble.Profile{Services: []*ble.Service{{
		UUID: ble.UUID16(0x180d),
		Characteristics: []*ble.Characteristic{{
			UUID:        ble.UUID16(0x2a37),
			Property:    ble.CharNotify | ble.CharRead,
			Descriptors: []*ble.Descriptor{{UUID: ble.UUID16(0x2902)}},
		}},
	}}}
}

func newTestRadio(t *testing.T, dev *mockBackend) (*Radio, chanSink) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	r := newRadio(logger, func() (backend, error) { return dev, nil })
	sink := make(chanSink, 64)
	r.Attach(sink)
	return r, sink
}

func TestRadio_DeclaresOnlyHostFeatures(t *testing.T) {
	failing := newRadio(nil, func() (backend, error) { return nil, errors.New("is Bluetooth turned on?") })
	set := capability.Detect(failing, nil)
	assert.Equal(t, 0, set.Len(), "a radio that cannot open MUST declare nothing usable")
	assert.Equal(t, device.PowerOff, failing.PowerState())

	r, _ := newTestRadio(t, &mockBackend{})
	set = capability.Detect(r, nil)
	assert.True(t, set.Supported(capability.LEScan))
	assert.True(t, set.Supported(capability.GattConnect))
	assert.False(t, set.Supported(capability.VendorReady))

	assert.ErrorIs(t, r.Enable(), device.ErrUnsupported)
	assert.ErrorIs(t, r.SetListening("aa", true), device.ErrUnsupported)
	_, err := r.GattReady()
	assert.ErrorIs(t, err, device.ErrUnsupported)
}

func TestRadio_LEScanReportsEncodedAdvertisements(t *testing.T) {
	dev := &mockBackend{adverts: []advertisement{fakeAdvertisement{
		name:     "Polar H10",
		addr:     "AA:BB:CC:DD:EE:FF",
		services: []ble.UUID{ble.UUID16(0x180d)},
		tx:       noTxPower,
		rssi:     -48,
	}}}
	r, sink := newTestRadio(t, dev)

	require.NoError(t, r.StartLEScan())
	found, ok := sink.next(t).(platform.DeviceFound)
	require.True(t, ok)
	require.NoError(t, r.StopLEScan())

	assert.Equal(t, "aa:bb:cc:dd:ee:ff", found.Address)
	assert.Equal(t, int16(-48), found.RSSI)
	assert.True(t, found.LE)

	adv := platform.DecodeAdvertisement(found.Record)
	assert.Equal(t, "Polar H10", adv.Name)
	assert.Equal(t, []string{bledb.ServiceHeartRate}, adv.Services)
	assert.Nil(t, adv.TxPower, "absent TX power MUST NOT be encoded")
}

func TestConn_ConnectDiscoverAndSubscribe(t *testing.T) {
	addr := "aa:bb:cc:dd:ee:01"
	cl := &mockClient{disconnected: make(chan struct{})}
	dev := &mockBackend{}
	dev.On("Dial", addr).Return(cl, nil)
	cl.On("DiscoverProfile", true).Return(heartRateProfile(), nil)

	var handler ble.NotificationHandler
	cl.On("Subscribe", "2a37", false, mock.Anything).Run(func(args mock.Arguments) {
		handler = args.Get(2).(ble.NotificationHandler)
	}).Return(nil)

	r, sink := newTestRadio(t, dev)
	conn, err := r.Open(addr)
	require.NoError(t, err)

	assert.Equal(t, platform.LinkChanged{Address: addr, State: device.Connected}, sink.next(t))
	assert.Equal(t, platform.GattConnectionChanged{Address: addr, State: device.Connected}, sink.next(t))

	require.NoError(t, conn.DiscoverServices())
	assert.Equal(t, platform.ServicesDiscovered{Address: addr}, sink.next(t))
	services := conn.Services()
	require.Len(t, services, 1)
	char, ok := platform.FindCharacteristic(services, bledb.ServiceHeartRate, bledb.CharHeartRateMeasurement)
	require.True(t, ok)
	assert.Equal(t, []string{bledb.DescClientCharConfig}, char.Descriptors)

	require.NoError(t, conn.SetCharacteristicNotification("180D", "2A37", true))
	require.NoError(t, conn.WriteDescriptor("180d", "2a37", "2902", platform.EnableNotificationValue))
	written, ok := sink.next(t).(platform.DescriptorWrite)
	require.True(t, ok)
	assert.True(t, written.Status.OK(), "CCCD write MUST map onto a go-ble subscription")

	require.NotNil(t, handler)
	handler([]byte{0x00, 0x48})
	assert.Equal(t, platform.CharacteristicChanged{
		Address:        addr,
		Service:        bledb.ServiceHeartRate,
		Characteristic: bledb.CharHeartRateMeasurement,
		Value:          []byte{0x00, 0x48},
	}, sink.next(t))

	cl.On("CancelConnection").Return(nil)
	require.NoError(t, conn.Close())
	cl.AssertExpectations(t)
}

func TestConn_DialFailureReportsStatus(t *testing.T) {
	addr := "aa:bb:cc:dd:ee:02"
	dev := &mockBackend{}
	dev.On("Dial", addr).Return(nil, errors.New("connection timed out"))

	r, sink := newTestRadio(t, dev)
	_, err := r.Open(addr)
	require.NoError(t, err, "dial MUST complete asynchronously")

	changed, ok := sink.next(t).(platform.GattConnectionChanged)
	require.True(t, ok)
	assert.False(t, changed.Status.OK())
	assert.Equal(t, device.Disconnected, changed.State)
}

func TestConn_HostDisconnectReportedOnce(t *testing.T) {
	addr := "aa:bb:cc:dd:ee:03"
	cl := &mockClient{disconnected: make(chan struct{})}
	dev := &mockBackend{}
	dev.On("Dial", addr).Return(cl, nil)
	cl.On("CancelConnection").Return(nil)

	r, sink := newTestRadio(t, dev)
	conn, err := r.Open(addr)
	require.NoError(t, err)
	sink.next(t)
	sink.next(t)

	close(cl.disconnected)
	assert.Equal(t, platform.GattConnectionChanged{Address: addr, State: device.Disconnected}, sink.next(t))
	assert.Equal(t, platform.LinkChanged{Address: addr, State: device.Disconnected}, sink.next(t))

	require.NoError(t, conn.Disconnect())
	require.NoError(t, conn.ReadRSSI())
	rssi, ok := sink.next(t).(platform.RSSIRead)
	require.True(t, ok, "a second disconnection MUST NOT be reported")
	assert.False(t, rssi.Status.OK())
}

func TestConn_ReadWithoutDiscoveryFails(t *testing.T) {
	addr := "aa:bb:cc:dd:ee:04"
	cl := &mockClient{}
	dev := &mockBackend{}
	dev.On("Dial", addr).Return(cl, nil)

	r, sink := newTestRadio(t, dev)
	conn, err := r.Open(addr)
	require.NoError(t, err)
	sink.next(t)
	sink.next(t)

	require.NoError(t, conn.ReadCharacteristic(bledb.ServiceBattery, bledb.CharBatteryLevel))
	read, ok := sink.next(t).(platform.CharacteristicRead)
	require.True(t, ok)
	assert.False(t, read.Status.OK())
	cl.AssertNotCalled(t, "ReadCharacteristic", mock.Anything)
}
