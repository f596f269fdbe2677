package main

import (
	"errors"
	"fmt"

	"github.com/srg/medlink/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the sensor dropped the connection while a
	// command was still streaming from it.
	ErrConnectionLost = errors.New("connection lost")

	// ErrNoServices means discovery finished without any service the
	// command could use.
	ErrNoServices = errors.New("no usable services")
)

// FormatUserError turns library errors into one-line messages for the terminal.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var capErr *device.CapabilityError
	switch {
	case errors.As(err, &capErr):
		return fmt.Sprintf("%q is not supported by this Bluetooth adapter", capErr.Feature)
	case errors.Is(err, device.ErrNoAdapter):
		return "no Bluetooth adapter available (try --simulate)"
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off"
	case errors.Is(err, device.ErrTimeout):
		return fmt.Sprintf("timed out: %v", err)
	case errors.Is(err, device.ErrNotConnected), errors.Is(err, ErrConnectionLost):
		return fmt.Sprintf("device is not connected: %v", err)
	case errors.Is(err, device.ErrClosed):
		return "the connection manager was shut down"
	}
	return err.Error()
}
