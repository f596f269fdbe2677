package sim

import (
	"github.com/srg/medlink/internal/bledb"
	"github.com/srg/medlink/internal/platform"
)

func notifyChar(uuid string) platform.Characteristic {
	return platform.Characteristic{
		UUID:        uuid,
		Properties:  platform.PropNotify | platform.PropRead,
		Descriptors: []string{bledb.DescClientCharConfig},
	}
}

// HeartRateMonitor is a chest strap exposing heart rate and battery level.
func HeartRateMonitor(address string) Peripheral {
	return Peripheral{
		Address: address,
		Name:    "HRM-Sim",
		RSSI:    -52,
		Services: []platform.Service{
			{UUID: bledb.ServiceHeartRate, Characteristics: []platform.Characteristic{notifyChar(bledb.CharHeartRateMeasurement)}},
			{UUID: bledb.ServiceBattery, Characteristics: []platform.Characteristic{notifyChar(bledb.CharBatteryLevel)}},
		},
		Values: map[string][]byte{bledb.CharBatteryLevel: {0x57}},
	}
}

// PulseOximeter is a Nonin-style oximeter.
func PulseOximeter(address string) Peripheral {
	return Peripheral{
		Address: address,
		Name:    "Nonin3230_Sim",
		RSSI:    -64,
		Services: []platform.Service{
			{UUID: bledb.ServiceNoninOximetry, Characteristics: []platform.Characteristic{
				notifyChar(bledb.CharNoninOximetry),
				{UUID: bledb.CharNoninControlPoint, Properties: platform.PropWrite},
			}},
			{UUID: bledb.ServiceBattery, Characteristics: []platform.Characteristic{notifyChar(bledb.CharBatteryLevel)}},
		},
		Values: map[string][]byte{bledb.CharBatteryLevel: {0x50}},
	}
}

// WeightScale is a Marsden-style scale using the alias CCCD.
func WeightScale(address string) Peripheral {
	return Peripheral{
		Address: address,
		Name:    "M-Scale_Sim",
		RSSI:    -70,
		Services: []platform.Service{
			{UUID: bledb.ServiceMarsden, Characteristics: []platform.Characteristic{{
				UUID:        bledb.CharMarsdenWeight,
				Properties:  platform.PropNotify | platform.PropWrite,
				Descriptors: []string{bledb.DescClientCharConfigAlias},
			}}},
		},
	}
}
