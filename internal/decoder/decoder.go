// Package decoder turns raw characteristic payloads into structured readings.
//
// Decoding is pure: the same id and bytes always give the same Reading, the
// input slice is never modified, and no payload makes Decode fail. Payloads
// shorter than their layout produce a reading with Degraded set and the
// unreadable fields left at zero.
package decoder

import (
	"fmt"
	"strings"

	"github.com/srg/medlink/internal/bledb"
)

// Parser decodes one characteristic kind.
type Parser func(data []byte) Reading

var parsers = map[string]Parser{
	bledb.CharHeartRateMeasurement:   parseHeartRate,
	bledb.CharNoninOximetry:          parsePulseOximetry,
	bledb.CharBatteryLevel:           parseBattery,
	bledb.CharTemperatureMeasurement: parseTemperature,
	bledb.CharBloodPressureMeasure:   parseBloodPressure,
	bledb.CharWeightMeasurement:      parseWeight,
	bledb.CharPLXSpotCheck:           parseSpotCheck,
}

// aliases lets callers name a layout instead of spelling its UUID.
var aliases = map[Kind]string{
	KindHeartRate:     bledb.CharHeartRateMeasurement,
	KindPulseOximetry: bledb.CharNoninOximetry,
	KindBattery:       bledb.CharBatteryLevel,
	KindTemperature:   bledb.CharTemperatureMeasurement,
	KindBloodPressure: bledb.CharBloodPressureMeasure,
	KindWeight:        bledb.CharWeightMeasurement,
	KindSpotCheck:     bledb.CharPLXSpotCheck,
}

// Resolve maps a kind alias or any UUID spelling to the normalized UUID.
func Resolve(id string) string {
	if uuid, ok := aliases[Kind(strings.ToLower(strings.TrimSpace(id)))]; ok {
		return uuid
	}
	return bledb.NormalizeUUID(id)
}

// IsKnown reports whether id has a dedicated layout.
func IsKnown(id string) bool {
	_, ok := parsers[Resolve(id)]
	return ok
}

// Kinds lists the aliases Decode accepts besides UUIDs.
func Kinds() []Kind {
	return []Kind{KindHeartRate, KindPulseOximetry, KindBattery, KindTemperature, KindBloodPressure, KindWeight, KindSpotCheck}
}

// Decode maps a characteristic id and payload to a Reading. Unknown ids fall
// back to Raw.
func Decode(id string, data []byte) Reading {
	if parse, ok := parsers[Resolve(id)]; ok {
		return parse(data)
	}
	return parseRaw(data)
}

func parseHeartRate(data []byte) Reading {
	c := newCursor(data)
	flags := c.u8()
	r := HeartRate{Wide: flags&0x01 != 0, Contact: sensorContact(flags)}
	if c.short {
		return HeartRate{Contact: ContactUnsupported, Degraded: true}
	}

	if r.Wide {
		r.BPM = c.u16()
	} else {
		r.BPM = uint16(c.u8())
	}
	if c.short {
		r.BPM = 0
		r.Degraded = true
		return r
	}

	if flags&0x08 != 0 {
		if v := c.u16(); !c.short {
			r.EnergyExpended = &v
		}
	}
	if flags&0x10 != 0 {
		for c.remaining() >= 2 {
			r.RRIntervals = append(r.RRIntervals, c.u16())
		}
		if c.remaining() == 1 {
			c.short = true
		}
	}

	r.Degraded = c.short
	return r
}

func sensorContact(flags uint8) SensorContact {
	switch (flags >> 1) & 0x03 {
	case 2:
		return ContactNotDetected
	case 3:
		return ContactDetected
	default:
		return ContactUnsupported
	}
}

// noninFrameLen is the length of one continuous oximetry frame; byte 0 is
// the frame length itself.
const noninFrameLen = 10

func parsePulseOximetry(data []byte) Reading {
	if len(data) < noninFrameLen {
		return PulseOximetry{Degraded: true}
	}

	status := data[1]
	return PulseOximetry{
		Status:         status,
		SyncMode:       status&(1<<0) != 0,
		LowPulseSignal: status&(1<<1) != 0,
		SmartPoint:     status&(1<<2) != 0,
		Searching:      status&(1<<3) != 0,
		FingerCorrect:  status&(1<<4) != 0,
		LowBattery:     status&(1<<5) != 0,
		BatteryVolts:   float64(data[2]) / 10,
		Counter:        uint16(data[5]) | uint16(data[6])<<8,
		SpO2:           data[7],
		PulseRate:      uint16(data[8])<<8 | uint16(data[9]),
	}
}

func parseBattery(data []byte) Reading {
	if len(data) == 0 {
		return Battery{Degraded: true}
	}
	return Battery{Percent: min(data[0], 100)}
}

func parseTemperature(data []byte) Reading {
	c := newCursor(data)
	flags := c.u8()
	value, ok := c.float()
	if c.short {
		return Temperature{Degraded: true}
	}

	r := Temperature{Value: value, Fahrenheit: flags&0x01 != 0, Degraded: !ok}
	if flags&0x02 != 0 {
		r.Timestamp = c.dateTime()
	}
	if flags&0x04 != 0 {
		if t := c.u8(); !c.short {
			r.Type = &t
		}
	}
	r.Degraded = r.Degraded || c.short
	return r
}

func parseBloodPressure(data []byte) Reading {
	c := newCursor(data)
	flags := c.u8()
	sys, ok1 := c.sfloat()
	dia, ok2 := c.sfloat()
	mean, ok3 := c.sfloat()
	if c.short {
		return BloodPressure{Degraded: true}
	}

	r := BloodPressure{
		Systolic:     sys,
		Diastolic:    dia,
		MeanArterial: mean,
		KPa:          flags&0x01 != 0,
		Degraded:     !(ok1 && ok2 && ok3),
	}
	if flags&0x02 != 0 {
		r.Timestamp = c.dateTime()
	}
	if flags&0x04 != 0 {
		if pr, ok := c.sfloat(); !c.short && ok {
			r.PulseRate = &pr
		}
	}
	if flags&0x08 != 0 {
		if id := c.u8(); !c.short {
			r.UserID = &id
		}
	}
	if flags&0x10 != 0 {
		if st := c.u16(); !c.short {
			r.Status = &st
		}
	}
	r.Degraded = r.Degraded || c.short
	return r
}

func parseWeight(data []byte) Reading {
	c := newCursor(data)
	flags := c.u8()
	raw := c.u16()
	if c.short {
		return Weight{Degraded: true}
	}

	imperial := flags&0x01 != 0
	// 0xFFFF means the scale could not take a measurement.
	if raw == 0xFFFF {
		return Weight{Imperial: imperial, Degraded: true}
	}

	r := Weight{Imperial: imperial}
	if imperial {
		r.Value = float64(raw) / 100
	} else {
		r.Value = float64(raw) * 5 / 1000
	}
	if flags&0x02 != 0 {
		r.Timestamp = c.dateTime()
	}
	if flags&0x04 != 0 {
		if id := c.u8(); !c.short {
			r.UserID = &id
		}
	}
	if flags&0x08 != 0 {
		bmi := c.u16()
		height := c.u16()
		if !c.short {
			b := float64(bmi) / 10
			h := float64(height) / 1000
			if imperial {
				h = float64(height) / 10
			}
			r.BMI, r.Height = &b, &h
		}
	}
	r.Degraded = c.short
	return r
}

func parseSpotCheck(data []byte) Reading {
	c := newCursor(data)
	flags := c.u8()
	spo2, ok1 := c.sfloat()
	pr, ok2 := c.sfloat()
	if c.short {
		return SpotCheck{Degraded: true}
	}

	r := SpotCheck{
		SpO2:        spo2,
		PulseRate:   pr,
		ClockNotSet: flags&0x10 != 0,
		Degraded:    !(ok1 && ok2),
	}
	if flags&0x01 != 0 {
		r.Timestamp = c.dateTime()
	}
	if flags&0x02 != 0 {
		if st := c.u16(); !c.short {
			r.MeasurementStatus = &st
		}
	}
	if flags&0x04 != 0 {
		if st := c.u24(); !c.short {
			r.SensorStatus = &st
		}
	}
	if flags&0x08 != 0 {
		if pai, ok := c.sfloat(); !c.short && ok {
			r.PulseAmplitude = &pai
		}
	}
	r.Degraded = r.Degraded || c.short
	return r
}

func parseRaw(data []byte) Reading {
	var hex, text strings.Builder
	for _, b := range data {
		fmt.Fprintf(&hex, "%02X ", b)
		if b >= 0x20 && b < 0x7f {
			text.WriteByte(b)
		} else {
			text.WriteByte('.')
		}
	}
	return Raw{
		Hex:   hex.String(),
		Text:  text.String(),
		Bytes: append([]byte(nil), data...),
	}
}
