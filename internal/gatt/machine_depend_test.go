//go:build test

// Code generated by dependgen — DO NOT EDIT.
package gatt

import "github.com/srgg/testify/depend"

var MachineTestSuiteTestRegistry = map[string]func(any){
	"TestConnect": func(s any) { s.(*MachineTestSuite).TestConnect() },
	"TestDiscoveryDebounce": func(s any) { s.(*MachineTestSuite).TestDiscoveryDebounce() },
	"TestBondedBeforeConnect": func(s any) { s.(*MachineTestSuite).TestBondedBeforeConnect() },
	"TestServicesDiscovered": func(s any) { s.(*MachineTestSuite).TestServicesDiscovered() },
	"TestNotificationLastWriterWins": func(s any) { s.(*MachineTestSuite).TestNotificationLastWriterWins() },
	"TestNotificationEnable": func(s any) { s.(*MachineTestSuite).TestNotificationEnable() },
	"TestNotificationFailureKeepsFlag": func(s any) { s.(*MachineTestSuite).TestNotificationFailureKeepsFlag() },
	"TestOpQueueSerializes": func(s any) { s.(*MachineTestSuite).TestOpQueueSerializes() },
	"TestOpTimeout": func(s any) { s.(*MachineTestSuite).TestOpTimeout() },
	"TestNotificationDecoded": func(s any) { s.(*MachineTestSuite).TestNotificationDecoded() },
	"TestDisconnectClearsState": func(s any) { s.(*MachineTestSuite).TestDisconnectClearsState() },
	"TestConnectWhileDisconnecting": func(s any) { s.(*MachineTestSuite).TestConnectWhileDisconnecting() },
	"TestCloseReleasesConnection": func(s any) { s.(*MachineTestSuite).TestCloseReleasesConnection() },
}

var MachineTestSuiteTestOrder = []string{
	"TestConnect",
	"TestDiscoveryDebounce",
	"TestBondedBeforeConnect",
	"TestServicesDiscovered",
	"TestNotificationLastWriterWins",
	"TestNotificationEnable",
	"TestNotificationFailureKeepsFlag",
	"TestOpQueueSerializes",
	"TestOpTimeout",
	"TestNotificationDecoded",
	"TestDisconnectClearsState",
	"TestConnectWhileDisconnecting",
	"TestCloseReleasesConnection",
}

var MachineTestSuiteDependencies = depend.Depends(func(s any) *depend.Dep {
	dep := new(depend.Dep)
	dep.On("TestDiscoveryDebounce", "TestConnect")
	dep.On("TestBondedBeforeConnect", "TestConnect")
	dep.On("TestServicesDiscovered", "TestConnect")
	dep.On("TestNotificationLastWriterWins", "TestServicesDiscovered")
	dep.On("TestNotificationEnable", "TestServicesDiscovered")
	dep.On("TestNotificationFailureKeepsFlag", "TestServicesDiscovered")
	dep.On("TestOpQueueSerializes", "TestServicesDiscovered")
	dep.On("TestOpTimeout", "TestOpQueueSerializes")
	dep.On("TestNotificationDecoded", "TestServicesDiscovered")
	dep.On("TestDisconnectClearsState", "TestNotificationEnable")
	dep.On("TestConnectWhileDisconnecting", "TestConnect")
	return dep
})

// GeneratedDependConfig returns the dependency configuration for MachineTestSuite.
// This method allows MachineTestSuite to be used with depend.RunSuite(t, suite).
// DO NOT implement this method manually - it is auto-generated.
func (s *MachineTestSuite) GeneratedDependConfig() *depend.SuiteConfig {
	return &depend.SuiteConfig{
		Registry: MachineTestSuiteTestRegistry,
		Order:    MachineTestSuiteTestOrder,
		Deps:     MachineTestSuiteDependencies,
	}
}
