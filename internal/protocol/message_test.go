package protocol

import (
	"bytes"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestMarshalControlDive(t *testing.T) {
	msg := &ControlMessage{
		Type: ControlDive,
		Dive: &DiveCommand{DepthM: 50, OffsetS: 10},
	}
	got, err := ProtoCodec{}.MarshalControl(msg)
	if err != nil {
		t.Fatalf("MarshalControl() error = %v", err)
	}

	// field 1 varint 0, field 2 bytes {field 1 = 50, field 2 = 10}
	want := []byte{0x08, 0x00, 0x12, 0x04, 0x08, 0x32, 0x10, 0x0a}
	if !bytes.Equal(got, want) {
		t.Errorf("MarshalControl() = % x, want % x", got, want)
	}
}

func TestMarshalControlRequests(t *testing.T) {
	tests := []struct {
		typ  ControlType
		want []byte
	}{
		{ControlCancelDive, []byte{0x08, 0x01}},
		{ControlStatusRequest, []byte{0x08, 0x02}},
		{ControlDataRequest, []byte{0x08, 0x03}},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			got, err := ProtoCodec{}.MarshalControl(&ControlMessage{Type: tt.typ})
			if err != nil {
				t.Fatalf("MarshalControl() error = %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("MarshalControl() = % x, want % x", got, tt.want)
			}
		})
	}
}

func TestControlMessageRoundTripNegativeValues(t *testing.T) {
	codec := ProtoCodec{}
	in := &ControlMessage{Type: ControlDive, Dive: &DiveCommand{DepthM: -3, OffsetS: 7}}
	data, err := codec.MarshalControl(in)
	if err != nil {
		t.Fatalf("MarshalControl() error = %v", err)
	}
	out, err := codec.UnmarshalControl(data)
	if err != nil {
		t.Fatalf("UnmarshalControl() error = %v", err)
	}
	if out.Type != ControlDive || out.Dive == nil || out.Dive.DepthM != -3 || out.Dive.OffsetS != 7 {
		t.Errorf("UnmarshalControl() = %+v (dive %+v)", out, out.Dive)
	}
}

func TestUnmarshalSubmarineStatus(t *testing.T) {
	codec := ProtoCodec{}
	data, err := codec.MarshalSubmarine(&SubmarineMessage{
		Type:   MessageStatus,
		Status: &StatusReport{Type: StatusDiving, BatteryPercentage: 87, HasBattery: true},
	})
	if err != nil {
		t.Fatalf("MarshalSubmarine() error = %v", err)
	}

	msg, err := codec.UnmarshalSubmarine(data)
	if err != nil {
		t.Fatalf("UnmarshalSubmarine() error = %v", err)
	}
	if msg.Type != MessageStatus {
		t.Errorf("Type = %v, want STATUS", msg.Type)
	}
	if msg.Status == nil {
		t.Fatal("Status = nil")
	}
	if msg.Status.Type != StatusDiving {
		t.Errorf("Status.Type = %v, want DIVING", msg.Status.Type)
	}
	if !msg.Status.HasBattery || msg.Status.BatteryPercentage != 87 {
		t.Errorf("battery = %d (present %v), want 87", msg.Status.BatteryPercentage, msg.Status.HasBattery)
	}
}

func TestUnmarshalSubmarineStatusWithoutBattery(t *testing.T) {
	// type STATUS, status {type DIVE_SCHEDULED}
	data := []byte{0x08, 0x00, 0x12, 0x02, 0x08, 0x01}
	msg, err := ProtoCodec{}.UnmarshalSubmarine(data)
	if err != nil {
		t.Fatalf("UnmarshalSubmarine() error = %v", err)
	}
	if msg.Status == nil || msg.Status.Type != StatusDiveScheduled {
		t.Fatalf("Status = %+v, want DIVE_SCHEDULED", msg.Status)
	}
	if msg.Status.HasBattery {
		t.Error("HasBattery = true for a status block without battery field")
	}
}

func TestUnmarshalSubmarineData(t *testing.T) {
	codec := ProtoCodec{}
	want := []Datum{
		{Depth: 1.5, Temperature: 12.25, Pressure: 1.1, Timestamp: 1000},
		{Depth: 10, Temperature: 11, Pressure: 2.05, Timestamp: 2000},
		{Depth: 49.75, Temperature: 8.5, Pressure: 5.9, Timestamp: 3000},
	}
	data, err := codec.MarshalSubmarine(&SubmarineMessage{Type: MessageData, Data: want})
	if err != nil {
		t.Fatalf("MarshalSubmarine() error = %v", err)
	}

	msg, err := codec.UnmarshalSubmarine(data)
	if err != nil {
		t.Fatalf("UnmarshalSubmarine() error = %v", err)
	}
	if msg.Type != MessageData {
		t.Errorf("Type = %v, want DATA", msg.Type)
	}
	if len(msg.Data) != len(want) {
		t.Fatalf("len(Data) = %d, want %d", len(msg.Data), len(want))
	}
	for i := range want {
		if msg.Data[i] != want[i] {
			t.Errorf("Data[%d] = %+v, want %+v", i, msg.Data[i], want[i])
		}
	}
}

func TestUnmarshalSubmarineSkipsUnknownFields(t *testing.T) {
	var data []byte
	data = protowire.AppendTag(data, 1, protowire.VarintType)
	data = protowire.AppendVarint(data, uint64(MessageStatus))
	data = protowire.AppendTag(data, 15, protowire.BytesType)
	data = protowire.AppendBytes(data, []byte("firmware 2.1"))
	data = protowire.AppendTag(data, 2, protowire.BytesType)
	data = protowire.AppendBytes(data, []byte{0x08, 0x02})

	msg, err := ProtoCodec{}.UnmarshalSubmarine(data)
	if err != nil {
		t.Fatalf("UnmarshalSubmarine() error = %v", err)
	}
	if msg.Status == nil || msg.Status.Type != StatusDiving {
		t.Errorf("Status = %+v, want DIVING", msg.Status)
	}
}

func TestUnmarshalSubmarineMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"truncated varint", []byte{0x08, 0x80}},
		{"status length exceeds data", []byte{0x12, 0x05, 0x08}},
		{"invalid tag", []byte{0x00}},
		{"truncated datum", []byte{0x1a, 0x03, 0x09, 0x00, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := (ProtoCodec{}).UnmarshalSubmarine(tt.data); err == nil {
				t.Errorf("UnmarshalSubmarine(% x) should fail", tt.data)
			}
		})
	}
}

func TestUnmarshalSubmarineEmptyPayload(t *testing.T) {
	// A zero-length frame decodes to the zero message: a STATUS with no block.
	msg, err := ProtoCodec{}.UnmarshalSubmarine(nil)
	if err != nil {
		t.Fatalf("UnmarshalSubmarine(nil) error = %v", err)
	}
	if msg.Type != MessageStatus || msg.Status != nil || len(msg.Data) != 0 {
		t.Errorf("UnmarshalSubmarine(nil) = %+v", msg)
	}
}

func TestStatusTypeString(t *testing.T) {
	tests := map[StatusType]string{
		StatusAvailable:     "AVAILABLE",
		StatusDiveScheduled: "DIVE_SCHEDULED",
		StatusDiving:        "DIVING",
		StatusType(9):       "StatusType(9)",
	}
	for st, want := range tests {
		if got := st.String(); got != want {
			t.Errorf("StatusType(%d).String() = %q, want %q", uint32(st), got, want)
		}
	}
}
