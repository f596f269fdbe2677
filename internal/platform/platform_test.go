package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignalAddress(t *testing.T) {
	assert.Equal(t, "aa", SignalAddress(GattConnectionChanged{Address: "aa"}))
	assert.Equal(t, "bb", SignalAddress(DescriptorWrite{Address: "bb"}))
	assert.Equal(t, "", SignalAddress(PowerStateChanged{}))
	assert.Equal(t, "", SignalAddress(GattServiceState{Ready: true}))
}

func TestFindCharacteristic(t *testing.T) {
	services := []Service{
		{UUID: "180f", Characteristics: []Characteristic{{UUID: "2a19", Properties: PropRead | PropNotify}}},
		{UUID: "180d", Characteristics: []Characteristic{{UUID: "2a37", Properties: PropNotify, Descriptors: []string{"2902"}}}},
	}

	c, ok := FindCharacteristic(services, "180d", "2a37")
	assert.True(t, ok)
	assert.Equal(t, []string{"2902"}, c.Descriptors)

	_, ok = FindCharacteristic(services, "180f", "2a37")
	assert.False(t, ok)
	assert.True(t, StatusSuccess.OK())
	assert.False(t, Status(133).OK())
}
