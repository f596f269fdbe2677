package bus

// Listener is the consumer protocol. Every handler runs synchronously on the
// dispatching goroutine, in registration order.
type Listener interface {
	OnAdapterPowerChanged(ev AdapterPowerChanged)
	OnDiscoveryStateChanged(ev DiscoveryStateChanged)
	OnScanModeChanged(ev ScanModeChanged)
	OnDeviceFound(ev DeviceFound)
	OnDeviceInfoChanged(ev DeviceInfoChanged)
	OnDeviceDisappeared(ev DeviceDisappeared)
	OnConnectionStateChanged(ev ConnectionStateChanged)
	OnBondStateChanged(ev BondStateChanged)
	// OnPairingEvent returns true to claim the request. Claims on
	// cancellations are ignored.
	OnPairingEvent(ev PairingEvent) bool
	OnGattServiceStateChanged(ev GattServiceStateChanged)
	OnServicesDiscovered(ev ServicesDiscovered)
	OnCharacteristicValue(ev CharacteristicValue)
}

// NopListener implements Listener with no-op handlers. Embed it and override
// the handlers of interest.
type NopListener struct{}

func (NopListener) OnAdapterPowerChanged(AdapterPowerChanged)         {}
func (NopListener) OnDiscoveryStateChanged(DiscoveryStateChanged)     {}
func (NopListener) OnScanModeChanged(ScanModeChanged)                 {}
func (NopListener) OnDeviceFound(DeviceFound)                         {}
func (NopListener) OnDeviceInfoChanged(DeviceInfoChanged)             {}
func (NopListener) OnDeviceDisappeared(DeviceDisappeared)             {}
func (NopListener) OnConnectionStateChanged(ConnectionStateChanged)   {}
func (NopListener) OnBondStateChanged(BondStateChanged)               {}
func (NopListener) OnPairingEvent(PairingEvent) bool                  { return false }
func (NopListener) OnGattServiceStateChanged(GattServiceStateChanged) {}
func (NopListener) OnServicesDiscovered(ServicesDiscovered)           {}
func (NopListener) OnCharacteristicValue(CharacteristicValue)         {}

// deliver routes ev to the matching handler. It reports false for an event
// kind it does not know.
func deliver(l Listener, ev Event) bool {
	switch e := ev.(type) {
	case AdapterPowerChanged:
		l.OnAdapterPowerChanged(e)
	case DiscoveryStateChanged:
		l.OnDiscoveryStateChanged(e)
	case ScanModeChanged:
		l.OnScanModeChanged(e)
	case DeviceFound:
		l.OnDeviceFound(e)
	case DeviceInfoChanged:
		l.OnDeviceInfoChanged(e)
	case DeviceDisappeared:
		l.OnDeviceDisappeared(e)
	case ConnectionStateChanged:
		l.OnConnectionStateChanged(e)
	case BondStateChanged:
		l.OnBondStateChanged(e)
	case PairingEvent:
		l.OnPairingEvent(e)
	case GattServiceStateChanged:
		l.OnGattServiceStateChanged(e)
	case ServicesDiscovered:
		l.OnServicesDiscovered(e)
	case CharacteristicValue:
		l.OnCharacteristicValue(e)
	default:
		return false
	}
	return true
}
