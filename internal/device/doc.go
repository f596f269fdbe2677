// Package device holds the domain records shared by every layer: the Device
// record and its registry, the connection/bond/power enums, and the error
// taxonomy returned at the facade and state-machine boundaries.
package device
