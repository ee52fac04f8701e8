// Package submarine is the domain-facing controller for the submarine. It
// turns dive intents into control messages, keeps the dive history and the
// reported status, and re-dispatches transport events to its own observers.
package submarine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/chaz8081/submarine-control/internal/protocol"
	"github.com/chaz8081/submarine-control/internal/registry"
	"github.com/chaz8081/submarine-control/internal/transport"
)

// DefaultName is the advertised name of the stock submarine.
const DefaultName = "USS Sea Tiger"

// receiverTag is the tag the controller registers under on its transport.
const receiverTag = "submarine"

// Option configures a Submarine.
type Option func(*Submarine)

// WithName sets the submarine's name.
func WithName(name string) Option {
	return func(s *Submarine) {
		if name != "" {
			s.name = name
		}
	}
}

// WithClock replaces time.Now for dive start times.
func WithClock(now func() time.Time) Option {
	return func(s *Submarine) {
		if now != nil {
			s.now = now
		}
	}
}

// Submarine is the controller for one submarine. All methods are safe for
// concurrent use.
type Submarine struct {
	transport transport.Transport
	name      string
	now       func() time.Time

	// intent serializes Dive and CancelDive and is held across the send.
	// mu guards status, battery, dives and autoReconnect and is never held
	// while writing to the transport, so inbound messages keep flowing.
	intent        sync.Mutex
	mu            sync.Mutex
	status        *fsm.FSM
	battery       int
	dives         []*Dive
	autoReconnect bool

	messageReceivers *registry.Registry[transport.MessageReceiver]
	statusReceivers  *registry.Registry[transport.ConnectionStatusReceiver]
}

var (
	_ transport.MessageReceiver          = (*Submarine)(nil)
	_ transport.ConnectionStatusReceiver = (*Submarine)(nil)
)

// New creates a controller that owns t and registers itself on it. A nil
// transport yields a controller whose requests all fail.
func New(t transport.Transport, opts ...Option) *Submarine {
	s := &Submarine{
		transport:        t,
		name:             DefaultName,
		now:              time.Now,
		status:           newStatusMachine(),
		battery:          100,
		messageReceivers: registry.New[transport.MessageReceiver](),
		statusReceivers:  registry.New[transport.ConnectionStatusReceiver](),
	}
	for _, opt := range opts {
		opt(s)
	}
	if t != nil {
		t.RegisterMessageReceiver(receiverTag, s)
		t.RegisterConnectionStatusReceiver(receiverTag, s)
	}
	return s
}

// Name returns the advertised name of the submarine.
func (s *Submarine) Name() string { return s.name }

// Status returns the current dive status.
func (s *Submarine) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status(s.status.Current())
}

// BatteryPercentage returns the last reported battery level, 100 until the
// submarine reports one.
func (s *Submarine) BatteryPercentage() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.battery
}

// Dives returns a copy of the dive history, oldest first.
func (s *Submarine) Dives() []Dive {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Dive, len(s.dives))
	for i, d := range s.dives {
		out[i] = d.clone()
	}
	return out
}

// LastDive returns a copy of the most recent dive.
func (s *Submarine) LastDive() (Dive, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.dives) == 0 {
		return Dive{}, false
	}
	return s.dives[len(s.dives)-1].clone(), true
}

// Connect starts connecting without automatic reconnect. The outcome is
// reported to the connection status receivers.
func (s *Submarine) Connect() bool {
	return s.connect(false)
}

// ConnectWithReconnect starts connecting and reconnects whenever the
// connection goes offline, until Connect or Disconnect is called.
func (s *Submarine) ConnectWithReconnect() bool {
	return s.connect(true)
}

func (s *Submarine) connect(reconnect bool) bool {
	s.mu.Lock()
	s.autoReconnect = reconnect
	s.mu.Unlock()

	if s.transport == nil {
		return false
	}
	slog.Info("[SUB] connecting", "name", s.name, "auto_reconnect", reconnect)
	return s.transport.Connect()
}

// Disconnect stops automatic reconnect and tears down the connection.
func (s *Submarine) Disconnect() bool {
	s.mu.Lock()
	s.autoReconnect = false
	s.mu.Unlock()

	if s.transport == nil {
		return false
	}
	return s.transport.Disconnect()
}

// IsConnected reports whether the transport has an established link.
func (s *Submarine) IsConnected() bool {
	return s.transport != nil && s.transport.IsConnected()
}

// Dive schedules a dive to depthM metres, starting offsetS seconds from now.
// It is only allowed while the submarine is available. The dive is recorded
// and the status moves to DIVE_SCHEDULED only if the request was sent. A
// status reported while the request was in flight wins over the local
// transition.
func (s *Submarine) Dive(depthM, offsetS int) bool {
	s.intent.Lock()
	defer s.intent.Unlock()

	if !s.allowed(eventDive, "dive") {
		return false
	}
	ok := s.send(&protocol.ControlMessage{
		Type: protocol.ControlDive,
		Dive: &protocol.DiveCommand{DepthM: int32(depthM), OffsetS: int32(offsetS)},
	})
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dives = append(s.dives, newDive(depthM, offsetS, s.now()))
	s.fireIfAllowed(eventDive)
	return true
}

// CancelDive cancels the scheduled dive. The dive stays in the history.
func (s *Submarine) CancelDive() bool {
	s.intent.Lock()
	defer s.intent.Unlock()

	if !s.allowed(eventCancel, "cancel") {
		return false
	}
	if !s.send(&protocol.ControlMessage{Type: protocol.ControlCancelDive}) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fireIfAllowed(eventCancel)
	return true
}

// allowed reports whether event is possible in the current status.
func (s *Submarine) allowed(event, intent string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.status.Can(event) {
		slog.Warn("[SUB] "+intent+" rejected", "status", s.status.Current())
		return false
	}
	return true
}

// MarkDiving records locally that the scheduled dive has started. Nothing is
// sent to the submarine.
func (s *Submarine) MarkDiving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Is(string(Diving)) {
		return true
	}
	if !s.status.Can(eventExpire) {
		return false
	}
	s.fire(eventExpire)
	return true
}

// UpdateStatus asks the submarine for its status.
func (s *Submarine) UpdateStatus() bool {
	return s.send(&protocol.ControlMessage{Type: protocol.ControlStatusRequest})
}

// UpdateData asks the submarine for the data of its last dive.
func (s *Submarine) UpdateData() bool {
	return s.send(&protocol.ControlMessage{Type: protocol.ControlDataRequest})
}

func (s *Submarine) send(msg *protocol.ControlMessage) bool {
	if s.transport == nil {
		slog.Warn("[SUB] no transport, dropping request", "type", msg.Type)
		return false
	}
	if !s.transport.Send(msg) {
		slog.Warn("[SUB] request not sent", "type", msg.Type)
		return false
	}
	return true
}

// fireIfAllowed runs event unless an inbound status moved the machine on in
// the meantime. Callers hold s.mu.
func (s *Submarine) fireIfAllowed(event string) {
	if !s.status.Can(event) {
		slog.Info("[SUB] keeping reported status", "event", event, "status", s.status.Current())
		return
	}
	s.fire(event)
}

// fire runs a status event. Callers hold s.mu and have checked Can.
func (s *Submarine) fire(event string) {
	if err := s.status.Event(context.Background(), event); err != nil {
		slog.Error("[SUB] status transition failed", "event", event, "error", err)
	}
}

// ReceiveMessage applies a message from the submarine and passes it on to
// the registered message receivers.
func (s *Submarine) ReceiveMessage(msg *protocol.SubmarineMessage) {
	switch msg.Type {
	case protocol.MessageStatus:
		s.applyStatus(msg.Status)
	case protocol.MessageData:
		s.applyData(msg.Data)
	default:
		slog.Debug("[SUB] ignoring message", "type", msg.Type)
	}

	s.messageReceivers.NotifyAll(func(tag string, r transport.MessageReceiver) {
		r.ReceiveMessage(msg)
	})
}

// applyStatus overwrites the local status with the reported one.
func (s *Submarine) applyStatus(report *protocol.StatusReport) {
	if report == nil {
		slog.Warn("[SUB] status message without status")
		return
	}
	status, ok := statusFromReport(report.Type)
	if !ok {
		slog.Warn("[SUB] unknown status reported", "status", report.Type)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.SetState(string(status))
	if report.HasBattery {
		s.battery = int(report.BatteryPercentage)
	}
	slog.Info("[SUB] new status", "status", status, "battery", s.battery)
}

// applyData replaces the data of the most recent dive, synthesizing one if
// none was issued yet.
func (s *Submarine) applyData(data []protocol.Datum) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.dives) == 0 {
		s.dives = append(s.dives, newDive(fallbackDepthM, fallbackOffsetS, s.now()))
	}
	last := s.dives[len(s.dives)-1]
	last.setData(data)
	slog.Info("[SUB] dive data received", "points", len(data), "dives", len(s.dives))
}

// ReceiveConnectionStatus passes the status on to the registered receivers
// and reconnects if the connection went offline while automatic reconnect is
// on.
func (s *Submarine) ReceiveConnectionStatus(online bool) {
	if online {
		slog.Info("[SUB] submarine is online", "name", s.name)
	} else {
		slog.Info("[SUB] submarine is offline", "name", s.name)
	}

	s.statusReceivers.NotifyAll(func(tag string, r transport.ConnectionStatusReceiver) {
		r.ReceiveConnectionStatus(online)
	})

	s.mu.Lock()
	reconnect := !online && s.autoReconnect
	s.mu.Unlock()
	if reconnect {
		slog.Info("[SUB] reconnecting", "name", s.name)
		s.ConnectWithReconnect()
	}
}

// RegisterMessageReceiver adds r under tag. Receivers see every inbound
// message after the controller has applied it.
func (s *Submarine) RegisterMessageReceiver(tag string, r transport.MessageReceiver) {
	s.messageReceivers.Register(tag, r)
}

// RemoveMessageReceiver removes the message receiver registered under tag.
func (s *Submarine) RemoveMessageReceiver(tag string) {
	s.messageReceivers.Remove(tag)
}

// RegisterConnectionStatusReceiver adds r under tag.
func (s *Submarine) RegisterConnectionStatusReceiver(tag string, r transport.ConnectionStatusReceiver) {
	s.statusReceivers.Register(tag, r)
}

// RemoveConnectionStatusReceiver removes the status receiver registered under
// tag.
func (s *Submarine) RemoveConnectionStatusReceiver(tag string) {
	s.statusReceivers.Remove(tag)
}
