package decoder

import (
	"fmt"
	"strings"
)

// Kind tags the concrete Reading type.
type Kind string

const (
	KindHeartRate     Kind = "heart_rate"
	KindPulseOximetry Kind = "pulse_oximetry"
	KindBattery       Kind = "battery"
	KindTemperature   Kind = "temperature"
	KindBloodPressure Kind = "blood_pressure"
	KindWeight        Kind = "weight"
	KindSpotCheck     Kind = "spot_check"
	KindRaw           Kind = "raw"
)

// Reading is the closed set of decoded characteristic values. A degraded
// reading came from a payload too short for its layout; fields that could
// not be read are zero.
type Reading interface {
	Kind() Kind
	IsDegraded() bool
	String() string
}

// SensorContact is the heart rate sensor contact status from flag bits 1-2.
type SensorContact string

const (
	ContactUnsupported SensorContact = "unsupported"
	ContactNotDetected SensorContact = "not_detected"
	ContactDetected    SensorContact = "detected"
)

type HeartRate struct {
	BPM            uint16        `json:"bpm"`
	Wide           bool          `json:"wide"`
	Contact        SensorContact `json:"contact"`
	EnergyExpended *uint16       `json:"energy_expended,omitempty"`
	RRIntervals    []uint16      `json:"rr_intervals,omitempty"`
	Degraded       bool          `json:"degraded,omitempty"`
}

// PulseOximetry is one frame of the Nonin continuous oximetry characteristic.
type PulseOximetry struct {
	Status         uint8   `json:"status"`
	SyncMode       bool    `json:"sync_mode"`
	LowPulseSignal bool    `json:"low_pulse_signal"`
	SmartPoint     bool    `json:"smart_point"`
	Searching      bool    `json:"searching"`
	FingerCorrect  bool    `json:"finger_correct"`
	LowBattery     bool    `json:"low_battery"`
	BatteryVolts   float64 `json:"battery_volts"`
	Counter        uint16  `json:"counter"`
	SpO2           uint8   `json:"spo2"`
	PulseRate      uint16  `json:"pulse_rate"`
	Degraded       bool    `json:"degraded,omitempty"`
}

type Battery struct {
	Percent  uint8 `json:"percent"`
	Degraded bool  `json:"degraded,omitempty"`
}

// DateTime is the 7-byte GATT date time structure.
type DateTime struct {
	Year    uint16 `json:"year"`
	Month   uint8  `json:"month"`
	Day     uint8  `json:"day"`
	Hours   uint8  `json:"hours"`
	Minutes uint8  `json:"minutes"`
	Seconds uint8  `json:"seconds"`
}

func (d DateTime) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d", d.Year, d.Month, d.Day, d.Hours, d.Minutes, d.Seconds)
}

type Temperature struct {
	Value      float64   `json:"value"`
	Fahrenheit bool      `json:"fahrenheit"`
	Timestamp  *DateTime `json:"timestamp,omitempty"`
	Type       *uint8    `json:"type,omitempty"`
	Degraded   bool      `json:"degraded,omitempty"`
}

type BloodPressure struct {
	Systolic     float64   `json:"systolic"`
	Diastolic    float64   `json:"diastolic"`
	MeanArterial float64   `json:"mean_arterial"`
	KPa          bool      `json:"kpa"`
	Timestamp    *DateTime `json:"timestamp,omitempty"`
	PulseRate    *float64  `json:"pulse_rate,omitempty"`
	UserID       *uint8    `json:"user_id,omitempty"`
	Status       *uint16   `json:"status,omitempty"`
	Degraded     bool      `json:"degraded,omitempty"`
}

type Weight struct {
	Value     float64   `json:"value"`
	Imperial  bool      `json:"imperial"`
	Timestamp *DateTime `json:"timestamp,omitempty"`
	UserID    *uint8    `json:"user_id,omitempty"`
	BMI       *float64  `json:"bmi,omitempty"`
	Height    *float64  `json:"height,omitempty"`
	Degraded  bool      `json:"degraded,omitempty"`
}

type SpotCheck struct {
	SpO2              float64   `json:"spo2"`
	PulseRate         float64   `json:"pulse_rate"`
	Timestamp         *DateTime `json:"timestamp,omitempty"`
	MeasurementStatus *uint16   `json:"measurement_status,omitempty"`
	SensorStatus      *uint32   `json:"sensor_status,omitempty"`
	PulseAmplitude    *float64  `json:"pulse_amplitude,omitempty"`
	ClockNotSet       bool      `json:"clock_not_set"`
	Degraded          bool      `json:"degraded,omitempty"`
}

// Raw is the fallback for characteristics without a known layout.
type Raw struct {
	Hex   string `json:"hex"`
	Text  string `json:"text"`
	Bytes []byte `json:"-"`
}

func (HeartRate) Kind() Kind     { return KindHeartRate }
func (PulseOximetry) Kind() Kind { return KindPulseOximetry }
func (Battery) Kind() Kind       { return KindBattery }
func (Temperature) Kind() Kind   { return KindTemperature }
func (BloodPressure) Kind() Kind { return KindBloodPressure }
func (Weight) Kind() Kind        { return KindWeight }
func (SpotCheck) Kind() Kind     { return KindSpotCheck }
func (Raw) Kind() Kind           { return KindRaw }

func (r HeartRate) IsDegraded() bool     { return r.Degraded }
func (r PulseOximetry) IsDegraded() bool { return r.Degraded }
func (r Battery) IsDegraded() bool       { return r.Degraded }
func (r Temperature) IsDegraded() bool   { return r.Degraded }
func (r BloodPressure) IsDegraded() bool { return r.Degraded }
func (r Weight) IsDegraded() bool        { return r.Degraded }
func (r SpotCheck) IsDegraded() bool     { return r.Degraded }
func (Raw) IsDegraded() bool             { return false }

func (r HeartRate) String() string {
	return fmt.Sprintf("Heart rate: %d bpm", r.BPM)
}

func (r PulseOximetry) String() string {
	return fmt.Sprintf("SpO2: %d%%, Pulse: %d, Volt: %.1f, Seq: %d, Status: %08b",
		r.SpO2, r.PulseRate, r.BatteryVolts, r.Counter, r.Status)
}

func (r Battery) String() string {
	return fmt.Sprintf("Battery Percentage: %d", r.Percent)
}

func (r Temperature) String() string {
	unit := "C"
	if r.Fahrenheit {
		unit = "F"
	}
	return fmt.Sprintf("Temperature: %.2f %s", r.Value, unit)
}

func (r BloodPressure) String() string {
	unit := "mmHg"
	if r.KPa {
		unit = "kPa"
	}
	return fmt.Sprintf("Blood pressure: %g/%g %s (MAP %g)", r.Systolic, r.Diastolic, unit, r.MeanArterial)
}

func (r Weight) String() string {
	unit := "kg"
	if r.Imperial {
		unit = "lb"
	}
	return fmt.Sprintf("Weight: %.2f %s", r.Value, unit)
}

func (r SpotCheck) String() string {
	return fmt.Sprintf("SpO2: %g%%, Pulse: %g", r.SpO2, r.PulseRate)
}

func (r Raw) String() string {
	return strings.TrimRight(r.Text+"\n"+r.Hex, " ")
}
