package submarine

import (
	"testing"
	"time"

	"github.com/chaz8081/submarine-control/internal/protocol"
	"github.com/chaz8081/submarine-control/internal/transport"
)

// The submarine pushes two reports and only then reads. The first report
// is applied while Dive is writing; the second keeps the device blocked
// until the reader takes it. Dive must still complete.
func TestDiveWhileSubmarinePushesReports(t *testing.T) {
	adapter := newPipeAdapter(transport.Device{Name: DefaultName, MAC: "00:11:22:33:44:55"})
	opts := transport.DefaultOptions()
	opts.DeviceName = DefaultName
	opts.StatusDelay = 5 * time.Millisecond
	opts.Discovery = false
	tr, err := transport.NewBluetoothTransport(adapter, opts)
	if err != nil {
		t.Fatalf("NewBluetoothTransport() error = %v", err)
	}
	defer tr.Close()

	s := New(tr)
	online := make(chan bool, 8)
	s.RegisterConnectionStatusReceiver("test", transport.ConnectionStatusReceiverFunc(func(v bool) { online <- v }))
	if !s.Connect() {
		t.Fatal("Connect() = false")
	}
	peer := adapter.nextPeer(t)
	defer peer.Close()
	waitStatus(t, online, true)

	codec := protocol.ProtoCodec{}
	received := make(chan *protocol.ControlMessage, 1)
	go func() {
		for _, battery := range []uint32{80, 70} {
			payload, err := codec.MarshalSubmarine(&protocol.SubmarineMessage{
				Type:   protocol.MessageStatus,
				Status: &protocol.StatusReport{Type: protocol.StatusAvailable, BatteryPercentage: battery, HasBattery: true},
			})
			if err != nil {
				t.Errorf("MarshalSubmarine() error = %v", err)
				return
			}
			if err := protocol.WriteFrame(peer, payload); err != nil {
				t.Errorf("WriteFrame() error = %v", err)
				return
			}
		}
		payload, err := protocol.DecodeFrame(peer)
		if err != nil {
			t.Errorf("DecodeFrame() error = %v", err)
			return
		}
		msg, err := codec.UnmarshalControl(payload)
		if err != nil {
			t.Errorf("UnmarshalControl() error = %v", err)
			return
		}
		received <- msg
	}()

	done := make(chan bool, 1)
	go func() { done <- s.Dive(50, 10) }()

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("Dive() = false, want true")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Dive() blocked while the submarine was pushing reports")
	}

	select {
	case msg := <-received:
		if msg.Type != protocol.ControlDive || msg.Dive == nil || msg.Dive.DepthM != 50 || msg.Dive.OffsetS != 10 {
			t.Errorf("submarine received %+v, want DIVE 50m/10s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("submarine never received the dive request")
	}

	deadline := time.After(2 * time.Second)
	for s.BatteryPercentage() != 70 {
		select {
		case <-deadline:
			t.Fatalf("BatteryPercentage() = %d, want 70 after both reports", s.BatteryPercentage())
		case <-time.After(5 * time.Millisecond):
		}
	}
	if n := len(s.Dives()); n != 1 {
		t.Errorf("len(Dives()) = %d, want 1", n)
	}
	s.Disconnect()
}
