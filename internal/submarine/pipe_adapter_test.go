package submarine

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/chaz8081/submarine-control/internal/transport"
)

// pipeAdapter is a transport.Adapter whose dials always succeed over
// net.Pipe. The far ends are handed to the test.
type pipeAdapter struct {
	devices []transport.Device
	peers   chan net.Conn
}

func newPipeAdapter(devices ...transport.Device) *pipeAdapter {
	return &pipeAdapter{devices: devices, peers: make(chan net.Conn, 8)}
}

func (a *pipeAdapter) Enable() error { return nil }
func (a *pipeAdapter) StartDiscovery() error { return nil }
func (a *pipeAdapter) CancelDiscovery() error { return nil }

func (a *pipeAdapter) BondedDevices() ([]transport.Device, error) {
	return a.devices, nil
}

func (a *pipeAdapter) DialService(context.Context, transport.Device, string) (transport.Socket, error) {
	local, remote := net.Pipe()
	a.peers <- remote
	return local, nil
}

func (a *pipeAdapter) DialChannel(ctx context.Context, dev transport.Device, _ uint8) (transport.Socket, error) {
	return a.DialService(ctx, dev, "")
}

func (a *pipeAdapter) nextPeer(t *testing.T) net.Conn {
	t.Helper()
	select {
	case p := <-a.peers:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}
