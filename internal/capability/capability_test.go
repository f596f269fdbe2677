package capability

import (
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type countingDeclarer struct {
	calls  map[Feature]int
	probes map[Feature]Probe
}

func newCountingDeclarer(results map[Feature]error) *countingDeclarer {
	d := &countingDeclarer{calls: map[Feature]int{}, probes: map[Feature]Probe{}}
	for f, res := range results {
		d.probes[f] = func() error {
			d.calls[f]++
			return res
		}
	}
	return d
}

func (d *countingDeclarer) DeclareCapabilities() map[Feature]Probe { return d.probes }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestDetect(t *testing.T) {
	d := newCountingDeclarer(map[Feature]error{
		LEScan:        nil,
		GattConnect:   nil,
		VendorRestart: errors.New("no such method"),
	})
	d.probes[VendorListen] = func() error { panic("reflective lookup blew up") }

	set := Detect(d, quietLogger())

	assert.True(t, set.Supported(LEScan))
	assert.True(t, set.Supported(GattConnect))
	assert.False(t, set.Supported(VendorRestart), "failing probe MUST mark feature unsupported")
	assert.False(t, set.Supported(VendorListen), "panicking probe MUST mark feature unsupported")
	assert.False(t, set.Supported(VendorReady), "undeclared feature MUST be unsupported")
	assert.Equal(t, []Feature{GattConnect, LEScan}, set.Features())
	assert.Equal(t, "gatt_connect,le_scan", set.String())

	for f, n := range d.calls {
		assert.Equal(t, 1, n, "probe %s MUST run exactly once", f)
	}
}

func TestDetect_Deterministic(t *testing.T) {
	results := map[Feature]error{
		LEScan:       nil,
		VendorReady:  nil,
		VendorListen: errors.New("absent"),
	}

	first := Detect(newCountingDeclarer(results), quietLogger())
	second := Detect(newCountingDeclarer(results), quietLogger())

	assert.True(t, first.Equal(second))
	assert.True(t, second.Equal(first))
}

func TestDetect_NilDeclarer(t *testing.T) {
	set := Detect(nil, nil)
	assert.Equal(t, 0, set.Len())
	assert.Equal(t, "none", set.String())
}

func TestSet_Equal(t *testing.T) {
	assert.True(t, NewSet(LEScan, GattConnect).Equal(NewSet(GattConnect, LEScan)))
	assert.False(t, NewSet(LEScan).Equal(NewSet(LEScan, GattConnect)))
	assert.False(t, NewSet(LEScan).Equal(NewSet(GattConnect)))
	assert.True(t, Set{}.Equal(NewSet()))
}
