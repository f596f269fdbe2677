// Package capability probes optional platform operations once and freezes the
// result into an immutable Set.
package capability

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Feature names an optional platform operation.
type Feature string

const (
	LEScan        Feature = "le_scan"
	GattConnect   Feature = "gatt_connect"
	VendorRestart Feature = "vendor_restart"
	VendorListen  Feature = "vendor_listen"
	VendorReady   Feature = "vendor_ready"
)

// Known lists every feature the facade knows how to gate, in sorted order.
var Known = []Feature{GattConnect, LEScan, VendorListen, VendorReady, VendorRestart}

// Probe checks one feature. A nil result means the feature is usable.
type Probe func() error

// Declarer is implemented by platform bindings. Features missing from the
// returned map are treated as unsupported.
type Declarer interface {
	DeclareCapabilities() map[Feature]Probe
}

// Set is an immutable feature set.
type Set struct {
	features map[Feature]struct{}
}

// NewSet builds a Set directly; used by bindings with a fixed feature list and by tests.
func NewSet(features ...Feature) Set {
	m := make(map[Feature]struct{}, len(features))
	for _, f := range features {
		m[f] = struct{}{}
	}
	return Set{features: m}
}

// Detect runs every declared probe exactly once, in sorted feature order.
// A probe that returns an error or panics marks its feature unsupported.
func Detect(d Declarer, logger *logrus.Logger) Set {
	if d == nil {
		return NewSet()
	}

	probes := d.DeclareCapabilities()
	names := make([]Feature, 0, len(probes))
	for f := range probes {
		names = append(names, f)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	supported := make([]Feature, 0, len(names))
	for _, f := range names {
		err := runProbe(probes[f])
		if err != nil {
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"feature": f,
					"error":   err,
				}).Debug("Capability unavailable")
			}
			continue
		}
		supported = append(supported, f)
	}

	set := NewSet(supported...)
	if logger != nil {
		logger.WithField("features", set.String()).Info("Platform capabilities detected")
	}
	return set
}

func runProbe(p Probe) (err error) {
	if p == nil {
		return fmt.Errorf("no probe")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return p()
}

// Supported reports whether f was detected.
func (s Set) Supported(f Feature) bool {
	_, ok := s.features[f]
	return ok
}

// Features returns the supported features in sorted order.
func (s Set) Features() []Feature {
	out := make([]Feature, 0, len(s.features))
	for f := range s.features {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s Set) Len() int { return len(s.features) }

func (s Set) Equal(other Set) bool {
	if len(s.features) != len(other.features) {
		return false
	}
	for f := range s.features {
		if !other.Supported(f) {
			return false
		}
	}
	return true
}

func (s Set) String() string {
	features := s.Features()
	if len(features) == 0 {
		return "none"
	}
	parts := make([]string, len(features))
	for i, f := range features {
		parts[i] = string(f)
	}
	return strings.Join(parts, ",")
}
