package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdvertisement_RoundTrip(t *testing.T) {
	tx := int8(-8)
	adv := Advertisement{
		Name:             "Nonin3230",
		Services:         []string{"180D", "46a970e0-0d5f-11e2-8b5e-0002a5d5c51b"},
		ManufacturerData: []byte{0x4c, 0x00, 0x01},
		TxPower:          &tx,
		Connectable:      true,
	}

	record := EncodeAdvertisement(adv)
	assert.Equal(t, []byte{0x02, 0x01, 0x06}, record[:3], "flags MUST come first")

	got := DecodeAdvertisement(record)
	assert.Equal(t, "Nonin3230", got.Name)
	assert.Equal(t, []string{"180d", "46a970e00d5f11e28b5e0002a5d5c51b"}, got.Services)
	assert.Equal(t, []byte{0x4c, 0x00, 0x01}, got.ManufacturerData)
	assert.Equal(t, int8(-8), *got.TxPower)
	assert.True(t, got.Connectable)
}

func TestEncodeAdvertisement_ServiceByteOrder(t *testing.T) {
	record := EncodeAdvertisement(Advertisement{Services: []string{"180d"}})
	assert.Equal(t, []byte{0x03, 0x03, 0x0d, 0x18}, record)
}

func TestDecodeAdvertisement_Truncated(t *testing.T) {
	got := DecodeAdvertisement([]byte{0x04, 0x09, 'H', 'R', 'M', 0x05, 0x09, 'x'})
	assert.Equal(t, "HRM", got.Name)
	assert.Empty(t, DecodeAdvertisement(nil).Name)
}
