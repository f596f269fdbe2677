package device

import (
	"sort"

	"github.com/cornelk/hashmap"
)

// Registry owns every Device record seen by a manager. Records are created on
// first discovery or connection attempt and are never removed.
type Registry struct {
	devices *hashmap.Map[string, *Device]
}

func NewRegistry() *Registry {
	return &Registry{devices: hashmap.New[string, *Device]()}
}

// GetOrCreate returns the record for address, creating it if needed.
// created is true only for the call that inserted the record.
func (r *Registry) GetOrCreate(address string) (dev *Device, created bool, err error) {
	addr, err := ValidateAddress(address)
	if err != nil {
		return nil, false, err
	}

	if dev, ok := r.devices.Get(addr); ok {
		return dev, false, nil
	}

	dev, loaded := r.devices.GetOrInsert(addr, NewDevice(addr))
	return dev, !loaded, nil
}

// Get looks up an existing record.
func (r *Registry) Get(address string) (*Device, bool) {
	return r.devices.Get(NormalizeAddress(address))
}

func (r *Registry) Len() int {
	return r.devices.Len()
}

// Devices returns a snapshot of all records sorted by address.
func (r *Registry) Devices() []*Device {
	result := make([]*Device, 0, r.devices.Len())
	r.devices.Range(func(_ string, dev *Device) bool {
		result = append(result, dev)
		return true
	})
	sort.Slice(result, func(i, j int) bool {
		return result[i].Address() < result[j].Address()
	})
	return result
}
