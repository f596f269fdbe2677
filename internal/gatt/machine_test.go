//go:build test

//go:generate go run github.com/srgg/testify/depend/cmd/dependgen MachineTestSuite

package gatt

import (
	"testing"
	"time"

	"github.com/srgg/testify/depend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srg/medlink/internal/adapter"
	"github.com/srg/medlink/internal/bledb"
	"github.com/srg/medlink/internal/bus"
	"github.com/srg/medlink/internal/capability"
	"github.com/srg/medlink/internal/decoder"
	"github.com/srg/medlink/internal/device"
	"github.com/srg/medlink/internal/platform"
	"github.com/srg/medlink/internal/platform/sim"
	"github.com/srg/medlink/internal/testutils"
	"github.com/srg/medlink/internal/worker"
)

const (
	hrmAddr   = "c0:ff:ee:00:00:01"
	scaleAddr = "c0:ff:ee:00:00:02"
	waitFor   = time.Second
)

// workerSink forwards signals to the redirector on the worker, the way the
// manager does.
type workerSink struct {
	w *worker.Worker
	r *adapter.Redirector
}

func (s workerSink) Signal(sig platform.Signal) {
	s.w.Post(func() { s.r.Signal(sig) })
}

func (s workerSink) Pairing(req platform.PairingRequest) bool {
	claimed := false
	_ = s.w.Call(func() error {
		claimed = s.r.Pairing(req)
		return nil
	})
	return claimed
}

type fixture struct {
	*testutils.TestHelper
	radio    *sim.Radio
	worker   *worker.Worker
	recorder *testutils.Recorder
	registry *device.Registry
	facade   *adapter.Facade
	machines map[string]*Machine
}

func newFixture(t *testing.T, cfg Config, opts ...sim.Option) *fixture {
	t.Helper()
	h := testutils.NewTestHelper(t)

	opts = append([]sim.Option{sim.WithPeripherals(sim.HeartRateMonitor(hrmAddr), sim.WeightScale(scaleAddr))}, opts...)
	radio := sim.New(opts...)
	w := worker.New(h.Logger)
	t.Cleanup(w.Stop)

	b := bus.New(h.Logger)
	recorder := testutils.NewRecorder()
	_, err := b.Subscribe(recorder)
	require.NoError(t, err)

	f, err := adapter.NewFacade(radio, capability.Detect(radio, h.Logger), b, w, h.Logger)
	require.NoError(t, err)

	fx := &fixture{
		TestHelper: h,
		radio:      radio,
		worker:     w,
		recorder:   recorder,
		registry:   device.NewRegistry(),
		facade:     f,
		machines:   map[string]*Machine{},
	}
	lookup := func(address string) adapter.SignalHandler {
		if m, ok := fx.machines[address]; ok {
			return m
		}
		return nil
	}
	r, err := adapter.NewRedirector(f, fx.registry, lookup, nil, h.Logger)
	require.NoError(t, err)
	radio.Attach(workerSink{w: w, r: r})

	for _, addr := range []string{hrmAddr, scaleAddr} {
		dev, _, err := fx.registry.GetOrCreate(addr)
		require.NoError(t, err)
		m, err := NewMachine(dev, f, w, b, cfg, h.Logger)
		require.NoError(t, err)
		fx.machines[addr] = m
	}
	radio.ResetCalls()
	return fx
}

// flush waits until every signal posted so far has been handled.
func (fx *fixture) flush() {
	_ = fx.worker.Call(func() error { return nil })
}

func (fx *fixture) gattStates(addr string) []device.ConnectionState {
	var out []device.ConnectionState
	for _, ev := range testutils.Recorded[bus.ConnectionStateChanged](fx.recorder) {
		if ev.Transport == bus.TransportGatt && ev.Device.Address() == addr {
			out = append(out, ev.State)
		}
	}
	return out
}

// connected drives a machine to Connected with its services discovered.
func (fx *fixture) connected(t *testing.T, addr string) *Machine {
	t.Helper()
	m := fx.machines[addr]
	require.NoError(t, m.Connect())
	fx.radio.Connected(addr)
	fx.flush()
	require.Equal(t, device.Connected, m.State(), "machine MUST be connected")

	fx.radio.Conn(addr).CompleteDiscovery(platform.StatusSuccess)
	fx.flush()
	fx.radio.ResetCalls()
	return m
}

func TestNewMachine_RejectsNilCollaborators(t *testing.T) {
	h := testutils.NewTestHelper(t)
	w := worker.New(h.Logger)
	defer w.Stop()
	b := bus.New(h.Logger)
	dev := device.NewDevice(hrmAddr)

	_, err := NewMachine(nil, nil, w, b, Config{}, h.Logger)
	assert.ErrorIs(t, err, device.ErrInvalidArgument)
	_, err = NewMachine(dev, nil, nil, b, Config{}, h.Logger)
	assert.ErrorIs(t, err, device.ErrInvalidArgument)
	_, err = NewMachine(dev, nil, w, nil, Config{}, h.Logger)
	assert.ErrorIs(t, err, device.ErrInvalidArgument)
	_, err = NewMachine(dev, nil, w, b, Config{}, nil)
	assert.ErrorIs(t, err, device.ErrInvalidArgument)
	_, err = NewMachine(dev, nil, w, b, Config{OpTimeout: -time.Second}, h.Logger)
	assert.ErrorIs(t, err, device.ErrInvalidArgument)
}

func TestNewMachine_AppliesDefaults(t *testing.T) {
	h := testutils.NewTestHelper(t)
	w := worker.New(h.Logger)
	defer w.Stop()

	m, err := NewMachine(device.NewDevice(hrmAddr), nil, w, bus.New(h.Logger), Config{OpTimeout: time.Second}, h.Logger)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, m.cfg.DiscoveryDelay, "zero delay MUST take the default")
	assert.Equal(t, time.Second, m.cfg.OpTimeout, "explicit values MUST be kept")
	assert.Equal(t, device.Disconnected, m.State())
}

func TestMachine_MissingPrerequisites(t *testing.T) {
	// GOAL: operations without an adapter or a connection object fail fast with a warning
	//
	// TEST SCENARIO: nil adapter → ErrNoAdapter; never opened → ErrNoConnection; nothing reaches the platform
	h := testutils.NewTestHelper(t)
	w := worker.New(h.Logger)
	defer w.Stop()

	m, err := NewMachine(device.NewDevice(hrmAddr), nil, w, bus.New(h.Logger), Config{}, h.Logger)
	require.NoError(t, err)

	assert.ErrorIs(t, m.Connect(), device.ErrNoAdapter)
	assert.ErrorIs(t, m.Read(bledb.ServiceBattery, bledb.CharBatteryLevel), device.ErrNoAdapter)
	assert.NotEmpty(t, h.Warnings(), "missing adapter MUST be logged")

	fx := newFixture(t, Config{})
	m = fx.machines[hrmAddr]
	assert.ErrorIs(t, m.Disconnect(), device.ErrNoConnection)
	assert.ErrorIs(t, m.SetNotification(bledb.ServiceHeartRate, bledb.CharHeartRateMeasurement, true), device.ErrNoConnection)
	assert.ErrorIs(t, m.ReadRSSI(), device.ErrNoConnection)
	assert.Empty(t, fx.radio.Calls(), "refused operations MUST NOT reach the platform")
}

type MachineTestSuite struct {
	suite.Suite
	fx *fixture
}

func (s *MachineTestSuite) SetupTest() {
	s.fx = newFixture(s.T(), Config{DiscoveryDelay: 40 * time.Millisecond, OpTimeout: 100 * time.Millisecond})
}

func (s *MachineTestSuite) TestConnect() {
	// GOAL: connecting emits one event per real transition and reuses the connection object
	//
	// TEST SCENARIO: connect twice → one Open; connected signal twice → one Connected event; reconnect → Connect on the same object
	fx := s.fx
	m := fx.machines[hrmAddr]

	s.Require().NoError(m.Connect())
	s.Require().NoError(m.Connect())
	s.Assert().Equal(1, fx.radio.CallCount("Open "), "a second connect while connecting MUST be a no-op")
	s.Assert().Equal(device.Connecting, m.State())

	fx.radio.Connected(hrmAddr)
	fx.radio.Connected(hrmAddr)
	fx.flush()
	s.Assert().Equal([]device.ConnectionState{device.Connecting, device.Connected}, fx.gattStates(hrmAddr),
		"repeated signals MUST NOT emit duplicate events")

	fx.radio.Disconnected(hrmAddr)
	fx.flush()
	s.Require().Equal(device.Disconnected, m.State())

	s.Require().NoError(m.Connect())
	s.Assert().Equal(1, fx.radio.CallCount("Open "), "reconnect MUST reuse the connection object")
	s.Assert().Equal(1, fx.radio.CallCount("Connect "+hrmAddr))
}

// @dependsOn TestConnect
func (s *MachineTestSuite) TestDiscoveryDebounce() {
	// GOAL: bursts of bond reports while connected yield exactly one service discovery
	//
	// TEST SCENARIO: connect → connected → bonded twice within the delay → one DiscoverServices
	fx := s.fx
	m := fx.machines[hrmAddr]

	s.Require().NoError(m.Connect())
	fx.radio.Connected(hrmAddr)
	fx.flush()
	s.Assert().False(fx.worker.Pending(m.discoverKey), "an unbonded device MUST NOT schedule discovery")

	fx.radio.Bond(hrmAddr, device.Bonded)
	fx.radio.Bond(hrmAddr, device.Bonded)
	fx.flush()

	s.Require().Eventually(func() bool {
		return fx.radio.CallCount("DiscoverServices") == 1
	}, waitFor, 5*time.Millisecond, "discovery MUST run once")
	time.Sleep(3 * m.cfg.DiscoveryDelay)
	s.Assert().Equal(1, fx.radio.CallCount("DiscoverServices"), "debounced reports MUST NOT discover again")
}

// @dependsOn TestConnect
func (s *MachineTestSuite) TestBondedBeforeConnect() {
	// GOAL: a device that is already bonded gets discovery on connect; bonding while disconnected does nothing
	fx := s.fx
	m := fx.machines[hrmAddr]

	fx.radio.Bond(hrmAddr, device.Bonded)
	fx.flush()
	s.Assert().False(fx.worker.Pending(m.discoverKey), "bonded while disconnected MUST have no effect")

	s.Require().NoError(m.Connect())
	fx.radio.Connected(hrmAddr)
	fx.flush()
	s.Assert().True(fx.worker.Pending(m.discoverKey), "connected while bonded MUST schedule discovery")
}

// @dependsOn TestConnect
func (s *MachineTestSuite) TestServicesDiscovered() {
	fx := s.fx
	m := fx.connected(s.T(), hrmAddr)

	evs := testutils.Recorded[bus.ServicesDiscovered](fx.recorder)
	s.Require().Len(evs, 1)
	s.Assert().NoError(evs[0].Err)
	s.Assert().Equal([]string{bledb.ServiceHeartRate, bledb.ServiceBattery}, evs[0].Services)
	s.Assert().Len(m.Services(), 2)

	fx.radio.Conn(hrmAddr).CompleteDiscovery(platform.Status(129))
	fx.flush()
	evs = testutils.Recorded[bus.ServicesDiscovered](fx.recorder)
	s.Require().Len(evs, 2)
	s.Assert().Error(evs[1].Err, "a failed discovery MUST carry an error")
}

// @dependsOn TestServicesDiscovered
func (s *MachineTestSuite) TestNotificationLastWriterWins() {
	// GOAL: the latest request wins over a CCCD write already in flight
	//
	// TEST SCENARIO: enable → disable before confirm → confirm enable → resync disable → confirm → disabled
	fx := s.fx
	m := fx.connected(s.T(), hrmAddr)
	conn := fx.radio.Conn(hrmAddr)
	svc, char := bledb.ServiceHeartRate, bledb.CharHeartRateMeasurement

	s.Require().NoError(m.SetNotification(svc, char, true))
	s.Require().NoError(m.SetNotification(svc, char, false))
	s.Assert().Equal(1, fx.radio.CallCount("WriteDescriptor"), "a second request MUST wait for the write in flight")
	s.Assert().False(m.Notifying(svc, char), "the flag MUST change only on confirm")

	conn.ConfirmDescriptorWrite(svc, char, bledb.DescClientCharConfig, platform.EnableNotificationValue, platform.StatusSuccess)
	fx.flush()
	s.Assert().False(m.Notifying(svc, char), "a confirm that disagrees with the latest request MUST NOT be exposed")
	s.Assert().Equal(1, fx.radio.CallCount("WriteDescriptor "+hrmAddr+" 180d 2a37 2902 0000"), "a resync write MUST follow")

	conn.ConfirmDescriptorWrite(svc, char, bledb.DescClientCharConfig, platform.DisableNotificationValue, platform.StatusSuccess)
	fx.flush()
	s.Assert().False(m.Notifying(svc, char))
	s.Assert().False(conn.Notifying(svc, char), "local delivery MUST be off")
	s.Assert().Equal(2, fx.radio.CallCount("WriteDescriptor"))
	s.Assert().Zero(m.PendingOps())
}

// @dependsOn TestServicesDiscovered
func (s *MachineTestSuite) TestNotificationEnable() {
	// GOAL: a confirmed enable sets the flag and tells the adapter the device is listening
	fx := s.fx
	m := fx.connected(s.T(), hrmAddr)
	conn := fx.radio.Conn(hrmAddr)
	svc, char := bledb.ServiceHeartRate, bledb.CharHeartRateMeasurement

	s.Require().NoError(m.SetNotification(svc, char, true))
	s.Assert().Equal([]string{
		"SetCharacteristicNotification " + hrmAddr + " 180d 2a37 true",
		"WriteDescriptor " + hrmAddr + " 180d 2a37 2902 0100",
	}, fx.radio.Calls(), "local enable MUST precede the CCCD write")

	conn.ConfirmDescriptorWrite(svc, char, bledb.DescClientCharConfig, platform.EnableNotificationValue, platform.StatusSuccess)
	fx.flush()
	s.Assert().True(m.Notifying(svc, char))
	s.Assert().True(m.Listening())
	s.Assert().True(fx.radio.Listening(hrmAddr), "adapter MUST be told the device is listening")
	s.Assert().Equal([]string{"180d/2a37"}, m.Subscriptions())

	s.Require().NoError(m.SetNotification(svc, char, true))
	s.Assert().Equal(1, fx.radio.CallCount("WriteDescriptor"), "enabling twice MUST NOT write again")
}

// @dependsOn TestServicesDiscovered
func (s *MachineTestSuite) TestNotificationFailureKeepsFlag() {
	// GOAL: a failed CCCD write leaves the flag unchanged and is not retried
	fx := s.fx
	m := fx.connected(s.T(), hrmAddr)
	svc, char := bledb.ServiceHeartRate, bledb.CharHeartRateMeasurement

	s.Require().NoError(m.SetNotification(svc, char, true))
	fx.radio.Conn(hrmAddr).ConfirmDescriptorWrite(svc, char, bledb.DescClientCharConfig, platform.EnableNotificationValue, platform.Status(3))
	fx.flush()

	s.Assert().False(m.Notifying(svc, char))
	s.Assert().Equal(1, fx.radio.CallCount("WriteDescriptor"), "failures MUST NOT be retried")
	s.Assert().NotEmpty(fx.Warnings())

	err := m.SetNotification(bledb.ServiceHeartRate, "2a38", true)
	s.Assert().ErrorIs(err, device.ErrInvalidArgument, "undiscovered characteristics MUST be rejected")
}

// @dependsOn TestServicesDiscovered
func (s *MachineTestSuite) TestOpQueueSerializes() {
	// GOAL: one GATT op is in flight per device; completions advance the queue in order
	//
	// TEST SCENARIO: read, write, rssi queued → only read issued → each completion issues the next
	fx := s.fx
	m := fx.connected(s.T(), hrmAddr)

	s.Require().NoError(m.Read(bledb.ServiceBattery, bledb.CharBatteryLevel))
	s.Require().NoError(m.Write(bledb.ServiceBattery, bledb.CharBatteryLevel, []byte{0x01}))
	s.Require().NoError(m.ReadRSSI())
	s.Assert().Equal([]string{"ReadCharacteristic " + hrmAddr + " 180f 2a19"}, fx.radio.Calls())
	s.Assert().Equal(3, m.PendingOps())

	fx.radio.Emit(platform.CharacteristicRead{
		Address: hrmAddr, Service: bledb.ServiceBattery, Characteristic: bledb.CharBatteryLevel, Value: []byte{150},
	})
	fx.flush()
	s.Assert().Equal(1, fx.radio.CallCount("WriteCharacteristic "+hrmAddr+" 180f 2a19 01"))
	s.Assert().Zero(fx.radio.CallCount("ReadRSSI"), "RSSI MUST wait for the write")

	values := testutils.Recorded[bus.CharacteristicValue](fx.recorder)
	s.Require().Len(values, 1)
	s.Assert().Equal(decoder.Battery{Percent: 100}, values[0].Reading, "battery MUST be clamped")
	s.Assert().False(values[0].Notification)

	fx.radio.Conn(hrmAddr).ConfirmCharacteristicWrite(bledb.ServiceBattery, bledb.CharBatteryLevel, []byte{0x01}, platform.StatusSuccess)
	fx.flush()
	s.Assert().Equal(1, fx.radio.CallCount("ReadRSSI"))

	fx.radio.Emit(platform.RSSIRead{Address: hrmAddr, RSSI: -40})
	fx.flush()
	s.Assert().Zero(m.PendingOps())
}

// @dependsOn TestOpQueueSerializes
func (s *MachineTestSuite) TestOpTimeout() {
	// GOAL: an op that never completes is failed by the timeout and the queue moves on
	fx := s.fx
	m := fx.connected(s.T(), hrmAddr)

	s.Require().NoError(m.Read(bledb.ServiceBattery, bledb.CharBatteryLevel))
	s.Require().NoError(m.ReadRSSI())

	s.Require().Eventually(func() bool {
		return fx.radio.CallCount("ReadRSSI") == 1
	}, waitFor, 5*time.Millisecond, "the next op MUST start after the timeout")
	s.Assert().Contains(fx.Warnings(), "GATT operation failed")

	// A late completion for the expired read is ignored.
	fx.radio.Emit(platform.CharacteristicRead{
		Address: hrmAddr, Service: bledb.ServiceBattery, Characteristic: bledb.CharBatteryLevel, Value: []byte{10},
	})
	fx.flush()
	s.Assert().Empty(testutils.Recorded[bus.CharacteristicValue](fx.recorder))
	s.Assert().Equal(1, m.PendingOps())
}

// @dependsOn TestServicesDiscovered
func (s *MachineTestSuite) TestNotificationDecoded() {
	fx := s.fx
	fx.connected(s.T(), hrmAddr)

	fx.radio.Notify(hrmAddr, bledb.ServiceHeartRate, bledb.CharHeartRateMeasurement, []byte{0x00, 72})
	fx.flush()

	values := testutils.Recorded[bus.CharacteristicValue](fx.recorder)
	s.Require().Len(values, 1)
	s.Assert().True(values[0].Notification)
	hr, ok := values[0].Reading.(decoder.HeartRate)
	s.Require().True(ok, "heart rate notifications MUST decode to HeartRate")
	s.Assert().Equal(72, int(hr.BPM))
}

// @dependsOn TestNotificationEnable
func (s *MachineTestSuite) TestDisconnectClearsState() {
	// GOAL: disconnecting clears listening, subscriptions, the op queue and pending discovery
	//
	// TEST SCENARIO: enabled + queued op → Disconnect → Disconnecting → disconnected signal → all state reset
	fx := s.fx
	m := fx.connected(s.T(), hrmAddr)
	svc, char := bledb.ServiceHeartRate, bledb.CharHeartRateMeasurement

	s.Require().NoError(m.SetNotification(svc, char, true))
	fx.radio.Conn(hrmAddr).ConfirmDescriptorWrite(svc, char, bledb.DescClientCharConfig, platform.EnableNotificationValue, platform.StatusSuccess)
	fx.flush()
	s.Require().True(m.Listening())
	s.Require().NoError(m.Read(bledb.ServiceBattery, bledb.CharBatteryLevel))
	m.ScheduleDiscovery()

	s.Require().NoError(m.Disconnect())
	s.Assert().Equal(device.Disconnecting, m.State())
	s.Assert().False(m.Listening(), "listening MUST be cleared before the platform disconnect")
	s.Assert().False(fx.worker.Pending(m.discoverKey))

	fx.radio.Disconnected(hrmAddr)
	fx.flush()
	s.Assert().Equal(device.Disconnected, m.State())
	s.Assert().False(m.Notifying(svc, char))
	s.Assert().Empty(m.Subscriptions())
	s.Assert().Zero(m.PendingOps())
	s.Assert().False(fx.worker.Pending(m.timeoutKey))
	s.Assert().Equal([]device.ConnectionState{
		device.Connecting, device.Connected, device.Disconnecting, device.Disconnected,
	}, fx.gattStates(hrmAddr))
}

// @dependsOn TestConnect
func (s *MachineTestSuite) TestConnectWhileDisconnecting() {
	// GOAL: a reconnect is refused until the platform acknowledges the pending disconnect
	//
	// TEST SCENARIO: Disconnect → Connect refused, state stays Disconnecting → disconnected signal → Connect goes to Connecting
	fx := s.fx
	m := fx.connected(s.T(), hrmAddr)

	s.Require().NoError(m.Disconnect())
	s.Require().Equal(device.Disconnecting, m.State())

	s.Assert().ErrorIs(m.Connect(), device.ErrNotConnected, "connect MUST be refused while disconnecting")
	s.Assert().Equal(device.Disconnecting, m.State())
	s.Assert().Zero(fx.radio.CallCount("Connect "+hrmAddr), "a refused connect MUST NOT reach the platform")

	fx.radio.Disconnected(hrmAddr)
	fx.flush()
	s.Require().NoError(m.Connect())
	s.Assert().Equal(device.Connecting, m.State())
}

func (s *MachineTestSuite) TestCloseReleasesConnection() {
	fx := s.fx
	m := fx.connected(s.T(), hrmAddr)

	s.Require().NoError(m.Close())
	s.Assert().Equal(1, fx.radio.CallCount("Close "+hrmAddr))
	s.Assert().Equal(device.Disconnected, m.State())
	s.Assert().ErrorIs(m.ReadRSSI(), device.ErrNoConnection)

	fx.worker.Stop()
	s.Assert().NoError(m.Close(), "closing after the worker stopped MUST still succeed")
}

func TestMachineTestSuite(t *testing.T) {
	depend.RunSuite(t, new(MachineTestSuite))
}

func TestMarsdenScaleStartsWeighing(t *testing.T) {
	// GOAL: the weight scale uses the alias CCCD and gets "P" once notifications are confirmed
	//
	// TEST SCENARIO: auto-completing radio → connect → discover → enable → alias CCCD write → "P" written
	fx := newFixture(t, Config{DiscoveryDelay: time.Millisecond}, sim.WithAutoComplete())
	m := fx.machines[scaleAddr]

	require.NoError(t, m.Connect())
	require.Eventually(t, func() bool { return m.State() == device.Connected }, waitFor, 5*time.Millisecond)
	require.NoError(t, m.DiscoverServices())
	fx.flush()

	require.NoError(t, m.SetNotification(bledb.ServiceMarsden, bledb.CharMarsdenWeight, true))
	require.Eventually(t, func() bool {
		return fx.radio.CallCount("WriteCharacteristic "+scaleAddr+" "+bledb.ServiceMarsden+" "+bledb.CharMarsdenWeight+" 50") == 1
	}, waitFor, 5*time.Millisecond, "the scale MUST be told to start weighing")

	assert.Equal(t, 1, fx.radio.CallCount("WriteDescriptor "+scaleAddr+" "+bledb.ServiceMarsden+" "+bledb.CharMarsdenWeight+" "+bledb.DescClientCharConfigAlias+" 0100"),
		"the alias CCCD MUST be used when 2902 is absent")
	assert.True(t, m.Notifying(bledb.ServiceMarsden, bledb.CharMarsdenWeight))
}
