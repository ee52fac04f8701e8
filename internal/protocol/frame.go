// internal/protocol/frame.go
package protocol

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
)

// MaxPayloadBytes is the largest payload a single frame can carry. The length
// prefix is one byte, so this is a hard protocol ceiling.
const MaxPayloadBytes = 255

// Framing errors.
var (
	// ErrPayloadTooLarge is returned when an outbound payload does not fit
	// behind a single-byte length prefix.
	ErrPayloadTooLarge = errors.New("protocol: payload too large")

	// ErrTransportClosed is returned when the stream ends before a complete
	// frame has been read.
	ErrTransportClosed = errors.New("protocol: transport closed")
)

// TransportIOError wraps a stream fault hit while reading or writing a frame.
type TransportIOError struct {
	Op  string // "read length", "read payload" or "write"
	Err error
}

func (e *TransportIOError) Error() string {
	return fmt.Sprintf("protocol: %s: %v", e.Op, e.Err)
}

func (e *TransportIOError) Unwrap() error { return e.Err }

// EncodeFrame prefixes payload with its one-byte length.
//
//	byte 0:     payload length L (0..255)
//	bytes 1..L: payload
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadBytes {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), MaxPayloadBytes)
	}
	frame := make([]byte, 0, 1+len(payload))
	frame = append(frame, byte(len(payload)))
	frame = append(frame, payload...)
	return frame, nil
}

// WriteFrame encodes payload and writes it to w with a single Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return classify("write", err)
	}
	return nil
}

// DecodeFrame reads one length byte, then blocks until exactly that many
// payload bytes have been read from r. Short reads are not retried.
//
// There is no checksum and no resynchronization: a corrupted length byte is
// indistinguishable from a valid one.
func DecodeFrame(r io.Reader) ([]byte, error) {
	var length [1]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return nil, classify("read length", err)
	}

	payload := make([]byte, int(length[0]))
	if len(payload) == 0 {
		return payload, nil
	}
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, classify("read payload", err)
	}
	return payload, nil
}

// classify maps a stream error to ErrTransportClosed when the stream was
// closed (by the peer or locally) and to a TransportIOError otherwise.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, os.ErrClosed):
		return fmt.Errorf("%w: %s: %v", ErrTransportClosed, op, err)
	default:
		return &TransportIOError{Op: op, Err: err}
	}
}
