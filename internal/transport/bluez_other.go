//go:build !linux

package transport

import (
	"context"
	"fmt"
	"runtime"
)

// unsupportedAdapter is used on platforms without an RFCOMM stream backend.
// Construction of a BluetoothTransport fails with ErrHardwareUnavailable.
type unsupportedAdapter struct{}

// NewSystemAdapter returns the adapter for this platform.
func NewSystemAdapter() Adapter {
	return unsupportedAdapter{}
}

func (unsupportedAdapter) Enable() error {
	return fmt.Errorf("%w: rfcomm not supported on %s", ErrHardwareUnavailable, runtime.GOOS)
}

func (unsupportedAdapter) StartDiscovery() error { return ErrHardwareUnavailable }
func (unsupportedAdapter) CancelDiscovery() error { return nil }

func (unsupportedAdapter) BondedDevices() ([]Device, error) {
	return nil, ErrHardwareUnavailable
}

func (unsupportedAdapter) DialService(context.Context, Device, string) (Socket, error) {
	return nil, ErrHardwareUnavailable
}

func (unsupportedAdapter) DialChannel(context.Context, Device, uint8) (Socket, error) {
	return nil, ErrHardwareUnavailable
}
