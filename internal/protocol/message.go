// Package protocol implements the wire format spoken with the submarine:
// one-byte length framing plus the protobuf encoding of the control messages
// we send and the status/telemetry messages the submarine sends back.
package protocol

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ControlType is the type field of a ControlMessage.
type ControlType uint32

const (
	ControlDive          ControlType = 0
	ControlCancelDive    ControlType = 1
	ControlStatusRequest ControlType = 2
	ControlDataRequest   ControlType = 3
)

func (t ControlType) String() string {
	switch t {
	case ControlDive:
		return "DIVE"
	case ControlCancelDive:
		return "CANCEL_DIVE"
	case ControlStatusRequest:
		return "STATUS_REQUEST"
	case ControlDataRequest:
		return "DATA_REQUEST"
	default:
		return fmt.Sprintf("ControlType(%d)", uint32(t))
	}
}

// MessageType is the type field of a SubmarineMessage.
type MessageType uint32

const (
	MessageStatus MessageType = 0
	MessageData   MessageType = 1
)

func (t MessageType) String() string {
	switch t {
	case MessageStatus:
		return "STATUS"
	case MessageData:
		return "DATA"
	default:
		return fmt.Sprintf("MessageType(%d)", uint32(t))
	}
}

// StatusType is the dive status reported by the submarine.
type StatusType uint32

const (
	StatusAvailable     StatusType = 0
	StatusDiveScheduled StatusType = 1
	StatusDiving        StatusType = 2
)

func (t StatusType) String() string {
	switch t {
	case StatusAvailable:
		return "AVAILABLE"
	case StatusDiveScheduled:
		return "DIVE_SCHEDULED"
	case StatusDiving:
		return "DIVING"
	default:
		return fmt.Sprintf("StatusType(%d)", uint32(t))
	}
}

// DiveCommand carries the parameters of a DIVE request.
type DiveCommand struct {
	DepthM  int32
	OffsetS int32
}

// ControlMessage is sent from us to the submarine.
//
//	field 1 (enum):    type
//	field 2 (message): dive {1: depth_m int32, 2: offset_s int32}
type ControlMessage struct {
	Type ControlType
	Dive *DiveCommand
}

// StatusReport is the status block of a STATUS message.
//
//	field 1 (enum):   type
//	field 2 (uint32): battery_percentage (optional)
type StatusReport struct {
	Type              StatusType
	BatteryPercentage uint32
	HasBattery        bool
}

// Datum is one telemetry sample.
//
//	field 1 (double): depth
//	field 2 (double): temperature
//	field 3 (double): pressure (raw sensor value, bar)
//	field 4 (uint64): timestamp (ms)
type Datum struct {
	Depth       float64
	Temperature float64
	Pressure    float64
	Timestamp   uint64
}

// SubmarineMessage is sent from the submarine to us.
//
//	field 1 (enum):             type
//	field 2 (message):          status
//	field 3 (repeated message): data
type SubmarineMessage struct {
	Type   MessageType
	Status *StatusReport
	Data   []Datum
}

// Codec turns typed messages into payload bytes and back. The transport only
// frames what the codec produces.
type Codec interface {
	MarshalControl(msg *ControlMessage) ([]byte, error)
	UnmarshalSubmarine(data []byte) (*SubmarineMessage, error)
}

// ProtoCodec encodes messages in protobuf wire format. It also implements the
// reverse direction so tests and simulators can play the submarine's side.
type ProtoCodec struct{}

var _ Codec = ProtoCodec{}

// MarshalControl encodes a ControlMessage.
func (ProtoCodec) MarshalControl(msg *ControlMessage) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("protocol: nil control message")
	}
	var buf []byte
	buf = protowire.AppendTag(buf, 1, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(msg.Type))
	if msg.Dive != nil {
		var dive []byte
		dive = protowire.AppendTag(dive, 1, protowire.VarintType)
		dive = protowire.AppendVarint(dive, uint64(int64(msg.Dive.DepthM)))
		dive = protowire.AppendTag(dive, 2, protowire.VarintType)
		dive = protowire.AppendVarint(dive, uint64(int64(msg.Dive.OffsetS)))
		buf = protowire.AppendTag(buf, 2, protowire.BytesType)
		buf = protowire.AppendBytes(buf, dive)
	}
	return buf, nil
}

// UnmarshalControl decodes a ControlMessage.
func (ProtoCodec) UnmarshalControl(data []byte) (*ControlMessage, error) {
	msg := &ControlMessage{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			msg.Type = ControlType(v)
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			dive, err := unmarshalDive(v)
			if err != nil {
				return 0, err
			}
			msg.Dive = dive
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func unmarshalDive(data []byte) (*DiveCommand, error) {
	dive := &DiveCommand{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.VarintType {
			return 0, nil
		}
		v, n := protowire.ConsumeVarint(b)
		switch num {
		case 1:
			dive.DepthM = int32(v)
		case 2:
			dive.OffsetS = int32(v)
		default:
			return 0, nil
		}
		return n, nil
	})
	if err != nil {
		return nil, fmt.Errorf("protocol: dive: %w", err)
	}
	return dive, nil
}

// MarshalSubmarine encodes a SubmarineMessage.
func (ProtoCodec) MarshalSubmarine(msg *SubmarineMessage) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("protocol: nil submarine message")
	}
	var buf []byte
	buf = protowire.AppendTag(buf, 1, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(msg.Type))
	if msg.Status != nil {
		var status []byte
		status = protowire.AppendTag(status, 1, protowire.VarintType)
		status = protowire.AppendVarint(status, uint64(msg.Status.Type))
		if msg.Status.HasBattery {
			status = protowire.AppendTag(status, 2, protowire.VarintType)
			status = protowire.AppendVarint(status, uint64(msg.Status.BatteryPercentage))
		}
		buf = protowire.AppendTag(buf, 2, protowire.BytesType)
		buf = protowire.AppendBytes(buf, status)
	}
	for _, d := range msg.Data {
		var datum []byte
		datum = protowire.AppendTag(datum, 1, protowire.Fixed64Type)
		datum = protowire.AppendFixed64(datum, math.Float64bits(d.Depth))
		datum = protowire.AppendTag(datum, 2, protowire.Fixed64Type)
		datum = protowire.AppendFixed64(datum, math.Float64bits(d.Temperature))
		datum = protowire.AppendTag(datum, 3, protowire.Fixed64Type)
		datum = protowire.AppendFixed64(datum, math.Float64bits(d.Pressure))
		datum = protowire.AppendTag(datum, 4, protowire.VarintType)
		datum = protowire.AppendVarint(datum, d.Timestamp)
		buf = protowire.AppendTag(buf, 3, protowire.BytesType)
		buf = protowire.AppendBytes(buf, datum)
	}
	return buf, nil
}

// UnmarshalSubmarine decodes a SubmarineMessage. Unknown fields are skipped.
func (ProtoCodec) UnmarshalSubmarine(data []byte) (*SubmarineMessage, error) {
	msg := &SubmarineMessage{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			msg.Type = MessageType(v)
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			status, err := unmarshalStatus(v)
			if err != nil {
				return 0, err
			}
			msg.Status = status
			return n, nil
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			datum, err := unmarshalDatum(v)
			if err != nil {
				return 0, err
			}
			msg.Data = append(msg.Data, datum)
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func unmarshalStatus(data []byte) (*StatusReport, error) {
	status := &StatusReport{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.VarintType {
			return 0, nil
		}
		v, n := protowire.ConsumeVarint(b)
		switch num {
		case 1:
			status.Type = StatusType(v)
		case 2:
			status.BatteryPercentage = uint32(v)
			status.HasBattery = true
		default:
			return 0, nil
		}
		return n, nil
	})
	if err != nil {
		return nil, fmt.Errorf("protocol: status: %w", err)
	}
	return status, nil
}

func unmarshalDatum(data []byte) (Datum, error) {
	var d Datum
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num >= 1 && num <= 3 && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			f := math.Float64frombits(v)
			switch num {
			case 1:
				d.Depth = f
			case 2:
				d.Temperature = f
			case 3:
				d.Pressure = f
			}
			return n, nil
		case num == 4 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			d.Timestamp = v
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return Datum{}, fmt.Errorf("protocol: datum: %w", err)
	}
	return d, nil
}

// walkFields iterates the fields of an encoded message. fn returns the number
// of value bytes it consumed, 0 to have the field skipped, or a negative
// protowire error code.
func walkFields(data []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("protocol: reading tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		m, err := fn(num, typ, data)
		if err != nil {
			return err
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, data)
		}
		if m < 0 {
			return fmt.Errorf("protocol: field %d: %w", num, protowire.ParseError(m))
		}
		data = data[m:]
	}
	return nil
}
