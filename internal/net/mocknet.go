package net

import (
	"context"
	"fmt"
	"sync"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

// MockNetwork is a factory that produces MockTransport instances wired up
// to talk to each other in-process, for deterministic control-plane
// tests. Adapted from the teacher's MockNetwork/MockTransport
// (mocktransport.go), generalized from raw UDP packets to typed
// wire.RPC deliveries.
type MockNetwork struct {
	mu         sync.Mutex
	transports map[wire.PeerID]*MockTransport
}

func NewMockNetwork() *MockNetwork {
	return &MockNetwork{
		transports: make(map[wire.PeerID]*MockTransport),
	}
}

// NewTransport registers a new MockTransport for the given peer id.
func (n *MockNetwork) NewTransport(id wire.PeerID) *MockTransport {
	n.mu.Lock()
	defer n.mu.Unlock()

	t := &MockTransport{
		net: n,
		id:  id,
		// Small buffer so sending doesn't block the sender's own
		// processing loop.
		inbox: make(chan wire.RPC, 256),
	}
	n.transports[id] = t
	return t
}

func (n *MockNetwork) lookup(id wire.PeerID) (*MockTransport, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.transports[id]
	return t, ok
}

// MockTransport is an in-process Transport implementation for tests.
type MockTransport struct {
	net   *MockNetwork
	id    wire.PeerID
	inbox chan wire.RPC
}

func (t *MockTransport) Send(ctx context.Context, to wire.PeerID, rpc *wire.RPC, highPriority bool) error {
	dest, ok := t.net.lookup(to)
	if !ok {
		return fmt.Errorf("mocknet: no route to peer %s", to)
	}
	sent := *rpc
	sent.From = t.id
	select {
	case dest.inbox <- sent:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *MockTransport) Broadcast(ctx context.Context, to []wire.PeerID, rpc *wire.RPC, highPriority bool) error {
	for _, peer := range to {
		if err := t.Send(ctx, peer, rpc, highPriority); err != nil {
			return err
		}
	}
	return nil
}

// Inbox returns the channel of RPCs delivered to this transport.
func (t *MockTransport) Inbox() <-chan wire.RPC {
	return t.inbox
}
