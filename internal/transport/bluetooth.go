package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/submarine-control/internal/protocol"
	"github.com/chaz8081/submarine-control/internal/registry"
)

// Options configures the Bluetooth transport.
type Options struct {
	DeviceName      string        // advertised name of the paired submarine
	ServiceUUID     string        // service negotiated first (default SPP)
	FallbackChannel uint8         // RFCOMM channel dialed when negotiation fails
	ConnectTimeout  time.Duration // bound for each negotiation attempt
	StatusDelay     time.Duration // delay before status receivers are notified
	Discovery       bool          // run a discovery pass before listing bonded devices
	Codec           protocol.Codec
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		ServiceUUID:     SerialPortServiceUUID,
		FallbackChannel: DefaultFallbackChannel,
		ConnectTimeout:  20 * time.Second,
		StatusDelay:     2 * time.Second,
		Discovery:       true,
		Codec:           protocol.ProtoCodec{},
	}
}

// BluetoothTransport is a Transport over a Bluetooth RFCOMM stream socket.
type BluetoothTransport struct {
	adapter Adapter
	opts    Options

	messageReceivers *registry.Registry[MessageReceiver]
	statusReceivers  *registry.Registry[ConnectionStatusReceiver]

	// mu guards gen, cancelBuildup and link. gen is bumped whenever a
	// buildup is started or torn down, so a stale buildup never installs
	// its socket.
	mu            sync.Mutex
	gen           uint64
	cancelBuildup context.CancelFunc
	link          *link

	connected atomic.Bool
	wg        sync.WaitGroup // buildup and reader goroutines
}

// link is one established connection.
type link struct {
	sock    Socket
	device  Device
	writeMu sync.Mutex
	once    sync.Once
}

func (l *link) write(payload []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return protocol.WriteFrame(l.sock, payload)
}

func (l *link) close() {
	l.once.Do(func() {
		if err := l.sock.Close(); err != nil {
			slog.Debug("[BT] closing socket", "name", l.device.Name, "error", err)
		}
	})
}

var _ Transport = (*BluetoothTransport)(nil)

// NewBluetoothTransport creates a transport for the bonded device named
// opts.DeviceName. It fails with ErrHardwareUnavailable if the adapter
// cannot be enabled.
func NewBluetoothTransport(adapter Adapter, opts Options) (*BluetoothTransport, error) {
	if adapter == nil {
		return nil, fmt.Errorf("%w: no adapter", ErrHardwareUnavailable)
	}
	if opts.DeviceName == "" {
		return nil, errors.New("transport: device name must not be empty")
	}
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = SerialPortServiceUUID
	}
	if opts.FallbackChannel == 0 {
		opts.FallbackChannel = DefaultFallbackChannel
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 20 * time.Second
	}
	if opts.StatusDelay <= 0 {
		opts.StatusDelay = 2 * time.Second
	}
	if opts.Codec == nil {
		opts.Codec = protocol.ProtoCodec{}
	}

	if err := adapter.Enable(); err != nil {
		if errors.Is(err, ErrHardwareUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrHardwareUnavailable, err)
	}

	return &BluetoothTransport{
		adapter:          adapter,
		opts:             opts,
		messageReceivers: registry.New[MessageReceiver](),
		statusReceivers:  registry.New[ConnectionStatusReceiver](),
	}, nil
}

// Connect drops any previous connection attempt without notifying, then looks
// for the bonded device named opts.DeviceName. If found, buildup runs in the
// background and Connect returns true immediately; the outcome arrives later
// through the connection status receivers.
func (t *BluetoothTransport) Connect() bool {
	t.teardown(false)

	if t.opts.Discovery {
		if err := t.adapter.StartDiscovery(); err != nil {
			slog.Warn("[BT] discovery failed to start", "error", err)
		}
	}

	slog.Info("[BT] listing paired devices")
	devices, err := t.adapter.BondedDevices()
	if err != nil {
		slog.Error("[BT] failed to list paired devices", "error", err)
		t.stopDiscovery()
		return false
	}

	for _, dev := range devices {
		slog.Debug("[BT] paired device", "name", dev.Name, "mac", dev.MAC)
		if dev.Name != "" && dev.Name == t.opts.DeviceName {
			slog.Info("[BT] found paired submarine", "name", dev.Name, "mac", dev.MAC)
			t.startBuildup(dev)
			return true
		}
	}

	t.stopDiscovery()
	slog.Warn("[BT] submarine is not paired", "name", t.opts.DeviceName)
	return false
}

// Disconnect cancels any buildup, closes any active socket and marks the
// transport offline. Receivers are notified (after the status delay) even if
// nothing was connected. Always returns true.
func (t *BluetoothTransport) Disconnect() bool {
	t.teardown(true)
	return true
}

// Close tears down without notifying and waits for the buildup and reader
// goroutines to exit.
func (t *BluetoothTransport) Close() error {
	t.teardown(false)
	t.wg.Wait()
	return nil
}

// IsConnected returns true iff a link is established.
func (t *BluetoothTransport) IsConnected() bool {
	return t.connected.Load()
}

// Send writes msg as a single frame. Returns false if there is no active
// socket or the write fails; nothing is queued or retried.
func (t *BluetoothTransport) Send(msg *protocol.ControlMessage) bool {
	if err := t.SendFrame(msg); err != nil {
		slog.Error("[BT] send failed", "error", err)
		return false
	}
	return true
}

// SendFrame is Send with the failure reason: ErrNotConnected,
// ErrPayloadTooLarge, ErrTransportClosed or a *protocol.TransportIOError. A
// write fault tears the link down; an oversized payload does not.
func (t *BluetoothTransport) SendFrame(msg *protocol.ControlMessage) error {
	payload, err := t.opts.Codec.MarshalControl(msg)
	if err != nil {
		return fmt.Errorf("transport: encode control message: %w", err)
	}

	t.mu.Lock()
	l := t.link
	t.mu.Unlock()
	if l == nil {
		return ErrNotConnected
	}

	slog.Debug("[BT] sending", "type", msg.Type, "bytes", len(payload)+1)
	if err := l.write(payload); err != nil {
		if errors.Is(err, protocol.ErrPayloadTooLarge) {
			return err
		}
		t.dropLink(l, err)
		return err
	}
	return nil
}

// RegisterMessageReceiver adds r under tag, replacing any receiver already
// registered there.
func (t *BluetoothTransport) RegisterMessageReceiver(tag string, r MessageReceiver) {
	_, replaced := t.messageReceivers.Get(tag)
	slog.Info("[BT] registered message receiver", "tag", tag, "replaced", replaced)
	t.messageReceivers.Register(tag, r)
}

// RemoveMessageReceiver removes the message receiver registered under tag.
func (t *BluetoothTransport) RemoveMessageReceiver(tag string) {
	slog.Info("[BT] removed message receiver", "tag", tag)
	t.messageReceivers.Remove(tag)
}

// RegisterConnectionStatusReceiver adds r under tag, replacing any receiver
// already registered there.
func (t *BluetoothTransport) RegisterConnectionStatusReceiver(tag string, r ConnectionStatusReceiver) {
	_, replaced := t.statusReceivers.Get(tag)
	slog.Info("[BT] registered connection status receiver", "tag", tag, "replaced", replaced)
	t.statusReceivers.Register(tag, r)
}

// RemoveConnectionStatusReceiver removes the status receiver registered under
// tag.
func (t *BluetoothTransport) RemoveConnectionStatusReceiver(tag string) {
	slog.Info("[BT] removed connection status receiver", "tag", tag)
	t.statusReceivers.Remove(tag)
}

func (t *BluetoothTransport) stopDiscovery() {
	if !t.opts.Discovery {
		return
	}
	if err := t.adapter.CancelDiscovery(); err != nil {
		slog.Debug("[BT] cancel discovery", "error", err)
	}
}

// teardown invalidates any buildup and active link and marks the transport
// offline. With notify set, an offline notification is always scheduled.
func (t *BluetoothTransport) teardown(notify bool) {
	t.mu.Lock()
	t.gen++
	cancel := t.cancelBuildup
	t.cancelBuildup = nil
	l := t.link
	t.link = nil
	t.connected.Store(false)
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if l != nil {
		l.close()
		slog.Info("[BT] disconnected", "name", l.device.Name)
	}
	if notify {
		t.notifyLater(false)
	}
}

// dropLink tears down l after a read or write fault. Only the first caller
// for the current link changes the status and notifies.
func (t *BluetoothTransport) dropLink(l *link, cause error) {
	t.mu.Lock()
	current := t.link == l
	if current {
		t.link = nil
		t.connected.Store(false)
	}
	t.mu.Unlock()

	l.close()
	if current {
		slog.Warn("[BT] connection lost", "name", l.device.Name, "error", cause)
		t.notifyLater(false)
	}
}

// notifyLater pushes online to the status receivers after the status delay.
// Pending notifications are never cancelled, so a stale one may arrive after
// a newer state change.
func (t *BluetoothTransport) notifyLater(online bool) {
	slog.Debug("[BT] scheduling connection status", "online", online, "receivers", t.statusReceivers.Len())
	time.AfterFunc(t.opts.StatusDelay, func() {
		t.statusReceivers.NotifyAll(func(tag string, r ConnectionStatusReceiver) {
			slog.Debug("[BT] notifying connection status receiver", "tag", tag, "online", online)
			r.ReceiveConnectionStatus(online)
		})
	})
}

func (t *BluetoothTransport) startBuildup(dev Device) {
	ctx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	if t.cancelBuildup != nil {
		t.cancelBuildup()
	}
	t.gen++
	gen := t.gen
	t.cancelBuildup = cancel
	t.wg.Add(1)
	t.mu.Unlock()

	go t.buildup(ctx, cancel, gen, dev)
}

// buildup dials dev and, on success, installs the link and starts the reader.
func (t *BluetoothTransport) buildup(ctx context.Context, cancel context.CancelFunc, gen uint64, dev Device) {
	defer t.wg.Done()
	defer cancel()

	t.stopDiscovery()

	sock, err := t.dial(ctx, dev)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("[BT] buildup cancelled", "name", dev.Name)
			return
		}
		slog.Error("[BT] connection buildup failed", "name", dev.Name, "error", err)

		t.mu.Lock()
		current := t.gen == gen
		if current {
			t.cancelBuildup = nil
			t.connected.Store(false)
		}
		t.mu.Unlock()
		if current {
			t.notifyLater(false)
		}
		return
	}

	l := &link{sock: sock, device: dev}

	t.mu.Lock()
	if t.gen != gen || ctx.Err() != nil {
		t.mu.Unlock()
		slog.Debug("[BT] discarding socket of cancelled buildup", "name", dev.Name)
		l.close()
		return
	}
	old := t.link
	t.link = l
	t.cancelBuildup = nil
	t.connected.Store(true)
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		old.close()
	}
	slog.Info("[BT] connected", "name", dev.Name, "mac", dev.MAC, "receivers", t.messageReceivers.Tags())
	t.notifyLater(true)

	go t.readLoop(l)
}

// dial negotiates the service first and falls back to the fixed channel.
func (t *BluetoothTransport) dial(ctx context.Context, dev Device) (Socket, error) {
	attempt, cancel := context.WithTimeout(ctx, t.opts.ConnectTimeout)
	sock, err := t.adapter.DialService(attempt, dev, t.opts.ServiceUUID)
	cancel()
	if err == nil {
		return sock, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	slog.Warn("[BT] service negotiation failed, trying fallback channel",
		"uuid", t.opts.ServiceUUID, "channel", t.opts.FallbackChannel, "error", err)

	attempt, cancel = context.WithTimeout(ctx, t.opts.ConnectTimeout)
	sock, fallbackErr := t.adapter.DialChannel(attempt, dev, t.opts.FallbackChannel)
	cancel()
	if fallbackErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: service %s: %v; channel %d: %v",
			ErrConnectionBuildupFailed, t.opts.ServiceUUID, err, t.opts.FallbackChannel, fallbackErr)
	}
	slog.Info("[BT] connected via fallback channel", "channel", t.opts.FallbackChannel)
	return sock, nil
}

// readLoop decodes frames until the stream fails, fanning each message out
// in the order it was read. Any error ends the loop and drops the link.
func (t *BluetoothTransport) readLoop(l *link) {
	defer t.wg.Done()

	r := bufio.NewReader(l.sock)
	for {
		payload, err := protocol.DecodeFrame(r)
		if err != nil {
			t.dropLink(l, err)
			return
		}
		slog.Debug("[BT] frame received", "bytes", len(payload))

		msg, err := t.opts.Codec.UnmarshalSubmarine(payload)
		if err != nil {
			t.dropLink(l, fmt.Errorf("transport: decode message: %w", err))
			return
		}

		t.messageReceivers.NotifyAll(func(tag string, recv MessageReceiver) {
			slog.Debug("[BT] notifying message receiver", "tag", tag, "type", msg.Type)
			recv.ReceiveMessage(msg)
		})
	}
}
