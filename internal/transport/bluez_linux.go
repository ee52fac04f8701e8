//go:build linux

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
	"tinygo.org/x/bluetooth"
)

const (
	bluezService        = "org.bluez"
	bluezDeviceIface    = "org.bluez.Device1"
	bluezAdapterIface   = "org.bluez.Adapter1"
	bluezProfileIface   = "org.bluez.Profile1"
	bluezProfileManager = "org.bluez.ProfileManager1"
	objectManagerIface  = "org.freedesktop.DBus.ObjectManager"
	profilePathPrefix   = "/org/submarinecontrol/profile"
)

// BlueZAdapter talks to the Linux Bluetooth stack: the radio and discovery
// through tinygo-org/bluetooth, bonded devices and SPP negotiation through
// BlueZ over D-Bus, and the fallback channel through a raw RFCOMM socket.
type BlueZAdapter struct {
	radio *bluetooth.Adapter

	// mu protects bus and scanning.
	mu       sync.Mutex
	bus      *dbus.Conn
	scanning bool
}

// NewSystemAdapter returns the adapter for this platform.
func NewSystemAdapter() Adapter {
	return NewBlueZAdapter()
}

// NewBlueZAdapter creates an adapter for the default BlueZ controller.
func NewBlueZAdapter() *BlueZAdapter {
	return &BlueZAdapter{radio: bluetooth.DefaultAdapter}
}

// Compile-time check that BlueZAdapter implements Adapter.
var _ Adapter = (*BlueZAdapter)(nil)

// Enable powers the radio, opens the system bus and checks that BlueZ has a
// powered controller.
func (a *BlueZAdapter) Enable() error {
	if err := a.radio.Enable(); err != nil {
		return fmt.Errorf("%w: %v", ErrHardwareUnavailable, err)
	}

	bus, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("%w: system bus: %v", ErrHardwareUnavailable, err)
	}

	objects, err := managedObjects(bus)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHardwareUnavailable, err)
	}
	powered := false
	for _, ifaces := range objects {
		props, ok := ifaces[bluezAdapterIface]
		if !ok {
			continue
		}
		if on, _ := props["Powered"].Value().(bool); on {
			powered = true
			break
		}
	}
	if !powered {
		return fmt.Errorf("%w: no powered adapter", ErrHardwareUnavailable)
	}

	a.mu.Lock()
	a.bus = bus
	a.mu.Unlock()
	return nil
}

// StartDiscovery starts a background scan. A scan already running is reused.
func (a *BlueZAdapter) StartDiscovery() error {
	a.mu.Lock()
	if a.scanning {
		a.mu.Unlock()
		return nil
	}
	a.scanning = true
	a.mu.Unlock()

	go func() {
		err := a.radio.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			slog.Debug("[BT] discovered", "name", result.LocalName(), "mac", result.Address.String(), "rssi", result.RSSI)
		})
		a.mu.Lock()
		a.scanning = false
		a.mu.Unlock()
		if err != nil {
			slog.Debug("[BT] discovery ended", "error", err)
		}
	}()
	return nil
}

// CancelDiscovery stops the running scan, if any.
func (a *BlueZAdapter) CancelDiscovery() error {
	a.mu.Lock()
	scanning := a.scanning
	a.mu.Unlock()
	if !scanning {
		return nil
	}
	return a.radio.StopScan()
}

// BondedDevices lists the paired devices BlueZ knows about, sorted by MAC.
func (a *BlueZAdapter) BondedDevices() ([]Device, error) {
	bus, err := a.systemBus()
	if err != nil {
		return nil, err
	}
	objects, err := managedObjects(bus)
	if err != nil {
		return nil, err
	}

	var devices []Device
	for path, ifaces := range objects {
		props, ok := ifaces[bluezDeviceIface]
		if !ok {
			continue
		}
		if paired, _ := props["Paired"].Value().(bool); !paired {
			continue
		}
		name, _ := props["Name"].Value().(string)
		mac, _ := props["Address"].Value().(string)
		devices = append(devices, Device{Name: name, MAC: mac, Path: string(path)})
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].MAC < devices[j].MAC })
	return devices, nil
}

// DialService registers a client SPP profile with BlueZ and asks it to
// connect dev. BlueZ performs the SDP lookup and hands us the connected
// socket through Profile1.NewConnection. The profile stays registered until
// the returned socket is closed.
func (a *BlueZAdapter) DialService(ctx context.Context, dev Device, serviceUUID string) (Socket, error) {
	bus, err := a.systemBus()
	if err != nil {
		return nil, err
	}
	if dev.Path == "" {
		return nil, fmt.Errorf("transport: device %s has no object path", dev.MAC)
	}

	profile := &sppProfile{conns: make(chan *os.File, 1)}
	path := dbus.ObjectPath(profilePathPrefix + strings.ReplaceAll(uuid.NewString(), "-", ""))
	if err := bus.Export(profile, path, bluezProfileIface); err != nil {
		return nil, fmt.Errorf("transport: export profile: %w", err)
	}

	manager := bus.Object(bluezService, "/org/bluez")
	options := map[string]dbus.Variant{
		"Role":        dbus.MakeVariant("client"),
		"AutoConnect": dbus.MakeVariant(false),
	}
	if err := manager.CallWithContext(ctx, bluezProfileManager+".RegisterProfile", 0, path, serviceUUID, options).Err; err != nil {
		_ = bus.Export(nil, path, bluezProfileIface)
		return nil, fmt.Errorf("transport: register profile %s: %w", serviceUUID, err)
	}

	var releaseOnce sync.Once
	release := func() {
		releaseOnce.Do(func() {
			if err := manager.Call(bluezProfileManager+".UnregisterProfile", 0, path).Err; err != nil {
				slog.Debug("[BT] unregister profile", "path", path, "error", err)
			}
			_ = bus.Export(nil, path, bluezProfileIface)
		})
	}

	device := bus.Object(bluezService, dbus.ObjectPath(dev.Path))
	if err := device.CallWithContext(ctx, bluezDeviceIface+".ConnectProfile", 0, serviceUUID).Err; err != nil {
		release()
		return nil, fmt.Errorf("transport: connect profile on %s: %w", dev.MAC, err)
	}

	select {
	case f := <-profile.conns:
		return &profileSocket{File: f, release: release}, nil
	case <-ctx.Done():
		release()
		return nil, fmt.Errorf("transport: waiting for profile connection: %w", ctx.Err())
	}
}

// DialChannel connects a raw RFCOMM socket to dev on channel, bypassing SDP.
func (a *BlueZAdapter) DialChannel(ctx context.Context, dev Device, channel uint8) (Socket, error) {
	addr, err := rfcommAddr(dev.MAC)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("transport: rfcomm socket: %w", err)
	}

	// connect(2) blocks; run it aside so ctx can abort it by shutting the
	// socket down.
	done := make(chan error, 1)
	go func() {
		done <- unix.Connect(fd, &unix.SockaddrRFCOMM{Addr: addr, Channel: channel})
	}()

	select {
	case err := <-done:
		if err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("transport: rfcomm connect %s channel %d: %w", dev.MAC, channel, err)
		}
	case <-ctx.Done():
		_ = unix.Shutdown(fd, unix.SHUT_RDWR)
		go func() {
			<-done
			unix.Close(fd)
		}()
		return nil, fmt.Errorf("transport: rfcomm connect %s channel %d: %w", dev.MAC, channel, ctx.Err())
	}

	return fileSocket(fd, fmt.Sprintf("rfcomm:%s/%d", dev.MAC, channel))
}

func (a *BlueZAdapter) systemBus() (*dbus.Conn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bus == nil {
		return nil, fmt.Errorf("%w: adapter not enabled", ErrHardwareUnavailable)
	}
	return a.bus, nil
}

func managedObjects(bus *dbus.Conn) (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	err := bus.Object(bluezService, "/").Call(objectManagerIface+".GetManagedObjects", 0).Store(&objects)
	if err != nil {
		return nil, fmt.Errorf("transport: list bluez objects: %w", err)
	}
	return objects, nil
}

// rfcommAddr parses a MAC address into the little-endian byte order the
// kernel expects in sockaddr_rc.
func rfcommAddr(mac string) ([6]uint8, error) {
	var addr [6]uint8
	hw, err := net.ParseMAC(mac)
	if err != nil || len(hw) != 6 {
		return addr, fmt.Errorf("transport: invalid device address %q", mac)
	}
	for i := range addr {
		addr[i] = hw[5-i]
	}
	return addr, nil
}

// fileSocket wraps a connected socket fd. The fd is switched to non-blocking
// mode so the runtime poller owns it and Close unblocks a pending Read.
func fileSocket(fd int, name string) (Socket, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: set nonblock: %w", err)
	}
	return os.NewFile(uintptr(fd), name), nil
}

// sppProfile is exported on D-Bus as org.bluez.Profile1.
type sppProfile struct {
	conns chan *os.File
}

func (p *sppProfile) Release() *dbus.Error { return nil }

func (p *sppProfile) NewConnection(dev dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	sock, err := fileSocket(int(fd), "rfcomm:"+string(dev))
	if err != nil {
		return dbus.MakeFailedError(err)
	}
	f := sock.(*os.File)
	select {
	case p.conns <- f:
	default:
		// Only one connection per dial.
		f.Close()
	}
	return nil
}

func (p *sppProfile) RequestDisconnection(dev dbus.ObjectPath) *dbus.Error {
	slog.Debug("[BT] profile disconnection requested", "device", dev)
	return nil
}

// profileSocket unregisters its profile when closed.
type profileSocket struct {
	*os.File
	release func()
}

func (s *profileSocket) Close() error {
	err := s.File.Close()
	s.release()
	return err
}
