package transport

import (
	"context"
	"errors"
	"io"
)

// SerialPortServiceUUID is the Serial Port Profile service class UUID used for
// the primary connection negotiation.
const SerialPortServiceUUID = "00001101-0000-1000-8000-00805f9b34fb"

// DefaultFallbackChannel is the RFCOMM channel dialed directly when service
// negotiation fails.
const DefaultFallbackChannel uint8 = 1

var (
	// ErrHardwareUnavailable is returned when the Bluetooth radio is absent
	// or powered off. It is fatal to construction.
	ErrHardwareUnavailable = errors.New("transport: bluetooth hardware unavailable")

	// ErrConnectionBuildupFailed means both the service negotiation and the
	// fallback channel failed.
	ErrConnectionBuildupFailed = errors.New("transport: connection buildup failed")

	// ErrNotConnected is returned by SendFrame when no socket is active.
	ErrNotConnected = errors.New("transport: not connected")
)

// Device represents a bonded (previously paired) Bluetooth device.
type Device struct {
	Name string
	MAC  string
	Path string // platform object path, e.g. the BlueZ Device1 path
}

// Socket is an established stream connection. Close must unblock any
// goroutine blocked in Read.
type Socket = io.ReadWriteCloser

// Adapter abstracts the platform Bluetooth stack for testing.
type Adapter interface {
	// Enable checks that the radio is present and powered.
	Enable() error
	// StartDiscovery begins a discovery pass in the background.
	StartDiscovery() error
	// CancelDiscovery stops a running discovery pass. Discovery slows down
	// connection buildup, so it is cancelled before dialing.
	CancelDiscovery() error
	// BondedDevices lists the devices paired with this host.
	BondedDevices() ([]Device, error)
	// DialService connects to dev by negotiating the given service UUID.
	DialService(ctx context.Context, dev Device, serviceUUID string) (Socket, error)
	// DialChannel connects to dev on a fixed RFCOMM channel without service
	// negotiation.
	DialChannel(ctx context.Context, dev Device, channel uint8) (Socket, error)
}
