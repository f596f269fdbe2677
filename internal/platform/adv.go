package platform

import (
	"encoding/hex"

	"github.com/srg/medlink/internal/bledb"
)

// AD structure types used when re-encoding advertisements.
const (
	adFlags            = 0x01
	adComplete16       = 0x03
	adComplete128      = 0x07
	adCompleteName     = 0x09
	adTxPower          = 0x0A
	adManufacturerData = 0xFF
)

// Advertisement is the subset of an advertising report the manager keeps.
type Advertisement struct {
	Name             string
	Services         []string
	ManufacturerData []byte
	TxPower          *int8
	Connectable      bool
}

// EncodeAdvertisement packs adv into a sequence of length-type-value AD
// structures, the layout scan records arrive in. Service UUIDs that are not
// 16-bit or 128-bit are skipped; anything past the payload limit is dropped.
func EncodeAdvertisement(adv Advertisement) []byte {
	var out []byte
	put := func(typ byte, data []byte) {
		if len(data) > 254 {
			data = data[:254]
		}
		out = append(out, byte(len(data)+1), typ)
		out = append(out, data...)
	}

	if adv.Connectable {
		put(adFlags, []byte{0x06})
	}
	if adv.Name != "" {
		put(adCompleteName, []byte(adv.Name))
	}

	var short, long []byte
	for _, s := range adv.Services {
		raw, err := hex.DecodeString(bledb.NormalizeUUID(s))
		if err != nil {
			continue
		}
		// little-endian on the air
		for i, j := 0, len(raw)-1; i < j; i, j = i+1, j-1 {
			raw[i], raw[j] = raw[j], raw[i]
		}
		switch len(raw) {
		case 2:
			short = append(short, raw...)
		case 16:
			long = append(long, raw...)
		}
	}
	if len(short) > 0 {
		put(adComplete16, short)
	}
	if len(long) > 0 {
		put(adComplete128, long)
	}
	if adv.TxPower != nil {
		put(adTxPower, []byte{byte(*adv.TxPower)})
	}
	if len(adv.ManufacturerData) > 0 {
		put(adManufacturerData, adv.ManufacturerData)
	}
	return out
}

// DecodeAdvertisement is the inverse of EncodeAdvertisement for the AD types
// it knows. A malformed structure ends parsing; what was read so far is kept.
func DecodeAdvertisement(record []byte) Advertisement {
	var adv Advertisement
	for len(record) >= 2 {
		n := int(record[0])
		if n == 0 || n+1 > len(record) {
			break
		}
		typ, data := record[1], record[2:n+1]
		record = record[n+1:]

		switch typ {
		case adFlags:
			adv.Connectable = len(data) > 0 && data[0]&0x02 != 0
		case adCompleteName, 0x08:
			adv.Name = string(data)
		case adComplete16, 0x02:
			adv.Services = append(adv.Services, splitUUIDs(data, 2)...)
		case adComplete128, 0x06:
			adv.Services = append(adv.Services, splitUUIDs(data, 16)...)
		case adTxPower:
			if len(data) == 1 {
				p := int8(data[0])
				adv.TxPower = &p
			}
		case adManufacturerData:
			adv.ManufacturerData = append([]byte(nil), data...)
		}
	}
	return adv
}

func splitUUIDs(data []byte, size int) []string {
	var out []string
	for len(data) >= size {
		raw := make([]byte, size)
		for i := 0; i < size; i++ {
			raw[i] = data[size-1-i]
		}
		out = append(out, bledb.NormalizeUUID(hex.EncodeToString(raw)))
		data = data[size:]
	}
	return out
}
