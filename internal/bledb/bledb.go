// Package bledb holds the GATT identifiers this project cares about and the
// UUID normalization every lookup goes through.
//
// The table is deliberately small: health-device services and characteristics
// plus the handful of descriptors needed for notifications. Names are only
// used for log and CLI readability.
package bledb

// Services
const (
	ServiceGenericAccess     = "1800"
	ServiceDeviceInformation = "180a"
	ServiceCurrentTime       = "1805"
	ServiceHealthThermometer = "1809"
	ServiceHeartRate         = "180d"
	ServiceBattery           = "180f"
	ServiceBloodPressure     = "1810"
	ServiceWeightScale       = "181d"
	ServicePulseOximeter     = "1822"
	ServiceNoninOximetry     = "46a970e00d5f11e28b5e0002a5d5c51b"
	ServiceMarsden           = "3a1bc6e0fb0611e1b9c20002a5d5c51b"
	ServiceTaidoc            = "000015231212efde1523785feabcd123"
	ServiceSinocare          = "ffb0"
)

// Characteristics and descriptors
const (
	CharHeartRateMeasurement   = "2a37"
	CharBodySensorLocation     = "2a38"
	CharBatteryLevel           = "2a19"
	CharTemperatureMeasurement = "2a1c"
	CharBloodPressureMeasure   = "2a35"
	CharWeightMeasurement      = "2a9d"
	CharPLXSpotCheck           = "2a5e"
	CharPLXContinuous          = "2a5f"
	CharPLXFeatures            = "2a60"
	CharCurrentTime            = "2a2b"
	CharRecordAccessControl    = "2a52"
	CharManufacturerName       = "2a29"
	CharModelNumber            = "2a24"
	CharNoninOximetry          = "0aad7ea00d6011e28e3c0002a5d5c51b"
	CharNoninControlPoint      = "1447af800d6011e288b60002a5d5c51b"
	CharMarsdenWeight          = "cc330a40fb0911e1a84d0002a5d5c51b"
	CharTaidocCommunication    = "000015241212efde1523785feabcd123"
	CharSinocareMeasurement    = "ffb2"
	DescClientCharConfig       = "2902"
	DescClientCharConfigAlias  = "00000000000000000000000000002902"
	DescCharUserDescription    = "2901"
	DescCharPresentationFormat = "2904"
)

var names = map[string]string{
	ServiceGenericAccess:       "Generic Access",
	ServiceDeviceInformation:   "Device Information",
	ServiceCurrentTime:         "Current Time Service",
	ServiceHealthThermometer:   "Health Thermometer",
	ServiceHeartRate:           "Heart Rate",
	ServiceBattery:             "Battery Service",
	ServiceBloodPressure:       "Blood Pressure",
	ServiceWeightScale:         "Weight Scale",
	ServicePulseOximeter:       "Pulse Oximeter",
	ServiceNoninOximetry:       "Nonin Oximetry Service",
	ServiceMarsden:             "Marsden Scale Service",
	ServiceTaidoc:              "TaiDoc Communication Service",
	ServiceSinocare:            "Sinocare Glucose Service",
	CharHeartRateMeasurement:   "Heart Rate Measurement",
	CharBodySensorLocation:     "Body Sensor Location",
	CharBatteryLevel:           "Battery Level",
	CharTemperatureMeasurement: "Temperature Measurement",
	CharBloodPressureMeasure:   "Blood Pressure Measurement",
	CharWeightMeasurement:      "Weight Measurement",
	CharPLXSpotCheck:           "PLX Spot-Check Measurement",
	CharPLXContinuous:          "PLX Continuous Measurement",
	CharPLXFeatures:            "PLX Features",
	CharCurrentTime:            "Current Time",
	CharRecordAccessControl:    "Record Access Control Point",
	CharManufacturerName:       "Manufacturer Name String",
	CharModelNumber:            "Model Number String",
	CharNoninOximetry:          "Nonin Oximetry Measurement",
	CharNoninControlPoint:      "Nonin Control Point",
	CharMarsdenWeight:          "Marsden Weight",
	CharTaidocCommunication:    "TaiDoc Communication",
	CharSinocareMeasurement:    "Sinocare Measurement",
	DescClientCharConfig:       "Client Characteristic Configuration",
	DescClientCharConfigAlias:  "Client Characteristic Configuration",
	DescCharUserDescription:    "Characteristic User Description",
	DescCharPresentationFormat: "Characteristic Presentation Format",
}

// Lookup returns the known name for a UUID in any accepted notation, or "".
func Lookup(uuid string) string {
	return names[NormalizeUUID(uuid)]
}

// LookupOr returns the known name or fallback.
func LookupOr(uuid, fallback string) string {
	if name := Lookup(uuid); name != "" {
		return name
	}
	return fallback
}

// IsClientCharConfig reports whether uuid names the CCCD or its vendor alias.
func IsClientCharConfig(uuid string) bool {
	n := NormalizeUUID(uuid)
	return n == DescClientCharConfig || n == DescClientCharConfigAlias
}
