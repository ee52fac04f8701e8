package protocol

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for size := 0; size <= MaxPayloadBytes; size++ {
		payload := bytes.Repeat([]byte{byte(size)}, size)

		frame, err := EncodeFrame(payload)
		if err != nil {
			t.Fatalf("EncodeFrame(len=%d) error = %v", size, err)
		}
		if len(frame) != size+1 {
			t.Fatalf("EncodeFrame(len=%d) frame length = %d, want %d", size, len(frame), size+1)
		}
		if frame[0] != byte(size) {
			t.Fatalf("EncodeFrame(len=%d) length byte = %d", size, frame[0])
		}

		got, err := DecodeFrame(bytes.NewReader(frame))
		if err != nil {
			t.Fatalf("DecodeFrame(len=%d) error = %v", size, err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("DecodeFrame(len=%d) = %v, want %v", size, got, payload)
		}
	}
}

func TestEncodeFrameTooLarge(t *testing.T) {
	for _, size := range []int{256, 300, 4096} {
		frame, err := EncodeFrame(make([]byte, size))
		if !errors.Is(err, ErrPayloadTooLarge) {
			t.Errorf("EncodeFrame(len=%d) error = %v, want ErrPayloadTooLarge", size, err)
		}
		if frame != nil {
			t.Errorf("EncodeFrame(len=%d) returned %d bytes, want nil", size, len(frame))
		}
	}
}

func TestWriteFrameTooLargeWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, make([]byte, MaxPayloadBytes+1))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("WriteFrame() error = %v, want ErrPayloadTooLarge", err)
	}
	if buf.Len() != 0 {
		t.Errorf("WriteFrame() wrote %d bytes, want 0", buf.Len())
	}
}

func TestDecodeFrameSequence(t *testing.T) {
	var buf bytes.Buffer
	payloads := [][]byte{[]byte("one"), {}, []byte("three"), bytes.Repeat([]byte{0xff}, 255)}
	for _, p := range payloads {
		if err := WriteFrame(&buf, p); err != nil {
			t.Fatalf("WriteFrame() error = %v", err)
		}
	}

	for i, want := range payloads {
		got, err := DecodeFrame(&buf)
		if err != nil {
			t.Fatalf("DecodeFrame() #%d error = %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("DecodeFrame() #%d = %q, want %q", i, got, want)
		}
	}

	if _, err := DecodeFrame(&buf); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("DecodeFrame() on drained stream error = %v, want ErrTransportClosed", err)
	}
}

func TestDecodeFrameTruncatedPayload(t *testing.T) {
	// Length says 10 but only 4 bytes follow before EOF.
	r := bytes.NewReader([]byte{10, 1, 2, 3, 4})
	_, err := DecodeFrame(r)
	if !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("DecodeFrame() error = %v, want ErrTransportClosed", err)
	}
}

func TestDecodeFrameClosedPipe(t *testing.T) {
	local, remote := net.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := DecodeFrame(local)
		done <- err
	}()

	remote.Close()
	if err := <-done; !errors.Is(err, ErrTransportClosed) {
		t.Errorf("DecodeFrame() error = %v, want ErrTransportClosed", err)
	}
	local.Close()
}

type faultyReader struct{ err error }

func (r faultyReader) Read([]byte) (int, error) { return 0, r.err }

func TestDecodeFrameIOError(t *testing.T) {
	fault := errors.New("radio fault")
	_, err := DecodeFrame(faultyReader{err: fault})

	var ioErr *TransportIOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("DecodeFrame() error = %v, want *TransportIOError", err)
	}
	if ioErr.Op != "read length" {
		t.Errorf("TransportIOError.Op = %q, want %q", ioErr.Op, "read length")
	}
	if !errors.Is(err, fault) {
		t.Error("TransportIOError should unwrap to the underlying error")
	}
	if errors.Is(err, ErrTransportClosed) {
		t.Error("a plain I/O fault should not be reported as ErrTransportClosed")
	}
}

type faultyWriter struct{}

func (faultyWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestWriteFrameClosedStream(t *testing.T) {
	err := WriteFrame(faultyWriter{}, []byte("x"))
	if !errors.Is(err, ErrTransportClosed) {
		t.Errorf("WriteFrame() error = %v, want ErrTransportClosed", err)
	}
}
