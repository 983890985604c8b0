package cluster

import (
	"sync"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

// sharedScores is the net.ScoreSource every node in a local Cluster
// consults. Every node it knows about is treated as connected with a
// neutral score and the v1.4 codec, since the cluster harness has no
// real scoring subsystem of its own — mirroring how the rest of the
// mesh manager treats scoring as an external collaborator it consumes
// but never computes.
type sharedScores struct {
	mu       sync.RWMutex
	outbound map[wire.PeerID]bool
}

func newSharedScores() *sharedScores {
	return &sharedScores{outbound: make(map[wire.PeerID]bool)}
}

// addNode records p as known to the cluster, alternating the outbound
// flag so heartbeat's DOut quota has peers to satisfy it with.
func (s *sharedScores) addNode(p wire.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbound[p] = len(s.outbound)%2 == 0
}

func (s *sharedScores) Score(wire.PeerID) float64 {
	return 0
}

func (s *sharedScores) Connected(p wire.PeerID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.outbound[p]
	return ok
}

func (s *sharedScores) Outbound(p wire.PeerID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outbound[p]
}

func (s *sharedScores) Codec(wire.PeerID) wire.Codec {
	return wire.CodecV14
}
