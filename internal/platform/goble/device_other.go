//go:build !darwin && !linux

package goble

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"

	"github.com/srg/medlink/internal/device"
)

func newNativeDevice() (ble.Device, error) {
	return nil, fmt.Errorf("%w: no go-ble host for %s", device.ErrUnsupported, runtime.GOOS)
}
