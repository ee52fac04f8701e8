// Package transport owns the single stream connection to the submarine: link
// buildup with a fallback path, the inbound read loop, framed writes and
// delayed connection-status notification.
package transport

import "github.com/chaz8081/submarine-control/internal/protocol"

// MessageReceiver is notified of every decoded message from the submarine.
type MessageReceiver interface {
	ReceiveMessage(msg *protocol.SubmarineMessage)
}

// ConnectionStatusReceiver is notified of connection status changes.
// online is false whenever the link is down.
type ConnectionStatusReceiver interface {
	ReceiveConnectionStatus(online bool)
}

// MessageReceiverFunc adapts a function to MessageReceiver.
type MessageReceiverFunc func(msg *protocol.SubmarineMessage)

func (f MessageReceiverFunc) ReceiveMessage(msg *protocol.SubmarineMessage) { f(msg) }

// ConnectionStatusReceiverFunc adapts a function to ConnectionStatusReceiver.
type ConnectionStatusReceiverFunc func(online bool)

func (f ConnectionStatusReceiverFunc) ReceiveConnectionStatus(online bool) { f(online) }

// Transport is the capability set every link to the submarine provides.
// Implementations must be safe for concurrent use.
type Transport interface {
	// Connect starts connecting and returns without waiting for the link.
	// The outcome is reported through the connection status receivers.
	Connect() bool
	// Disconnect tears down any buildup or active link.
	Disconnect() bool
	// IsConnected reports whether the link is up.
	IsConnected() bool
	// Send writes one framed message. It does not queue or retry.
	Send(msg *protocol.ControlMessage) bool

	RegisterMessageReceiver(tag string, r MessageReceiver)
	RemoveMessageReceiver(tag string)
	RegisterConnectionStatusReceiver(tag string, r ConnectionStatusReceiver)
	RemoveConnectionStatusReceiver(tag string)
}
