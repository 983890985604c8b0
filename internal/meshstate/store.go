package meshstate

import (
	"sync"
	"time"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

// Store is this node's view of all known peers plus the three disjoint
// topic peer sets (§2, §3). It is thread safe: heartbeat, control
// handlers and public accessors may all call it from whatever goroutine
// currently holds the single-threaded cooperative scheduler's turn
// (spec.md §5), and tests may inspect it concurrently.
//
// Grounded on internal/peermap.go's RWMutex-guarded map-of-structs
// pattern, generalized from one flat peer map to a peer map plus three
// per-topic role sets.
type Store struct {
	mu sync.RWMutex

	historyLength    int
	maxHeIsReceiving int
	directPeers      map[wire.PeerID]struct{}

	peers map[wire.PeerID]*Peer

	gossipsub map[wire.TopicID]map[wire.PeerID]struct{}
	mesh      map[wire.TopicID]map[wire.PeerID]struct{}
	fanout    map[wire.TopicID]map[wire.PeerID]struct{}

	fanoutLastPublish map[wire.TopicID]time.Time

	subscribed map[wire.TopicID]struct{}
}

// NewStore returns an empty Store. directPeers are the peers configured
// as always-connected direct peerings (§3 invariant: never appear in
// mesh or fanout).
func NewStore(historyLength int, directPeers []wire.PeerID) *Store {
	return NewStoreWithCaps(historyLength, defaultMaxHeIsReceiving, directPeers)
}

// NewStoreWithCaps is NewStore with an explicit heIsReceivings capacity
// applied to every peer it creates.
func NewStoreWithCaps(historyLength, maxHeIsReceiving int, directPeers []wire.PeerID) *Store {
	direct := make(map[wire.PeerID]struct{}, len(directPeers))
	for _, p := range directPeers {
		direct[p] = struct{}{}
	}
	return &Store{
		historyLength:     historyLength,
		maxHeIsReceiving:  maxHeIsReceiving,
		directPeers:       direct,
		peers:             make(map[wire.PeerID]*Peer),
		gossipsub:         make(map[wire.TopicID]map[wire.PeerID]struct{}),
		mesh:              make(map[wire.TopicID]map[wire.PeerID]struct{}),
		fanout:            make(map[wire.TopicID]map[wire.PeerID]struct{}),
		fanoutLastPublish: make(map[wire.TopicID]time.Time),
		subscribed:        make(map[wire.TopicID]struct{}),
	}
}

// Subscribe marks t as a topic this node actively subscribes to (§4.3
// step 5: GRAFTs for topics we don't subscribe to are ignored).
func (s *Store) Subscribe(t wire.TopicID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed[t] = struct{}{}
}

func (s *Store) Unsubscribe(t wire.TopicID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribed, t)
}

func (s *Store) IsSubscribed(t wire.TopicID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.subscribed[t]
	return ok
}

// SubscribedTopics returns every topic this node currently subscribes
// to.
func (s *Store) SubscribedTopics() []wire.TopicID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]wire.TopicID, 0, len(s.subscribed))
	for t := range s.subscribed {
		out = append(out, t)
	}
	return out
}

// IsDirect reports whether p is a configured direct peer.
func (s *Store) IsDirect(p wire.PeerID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.directPeers[p]
	return ok
}

// Peer returns the peer state for p, if it has been observed.
func (s *Store) Peer(p wire.PeerID) (*Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	peer, ok := s.peers[p]
	return peer, ok
}

// EnsurePeer returns the existing peer state for p, creating fresh state
// on first observation (§3 Lifecycle).
func (s *Store) EnsurePeer(p wire.PeerID) *Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	peer, ok := s.peers[p]
	if !ok {
		peer = NewPeerWithCaps(p, s.historyLength, s.maxHeIsReceiving)
		s.peers[p] = peer
	}
	return peer
}

// RemovePeer destroys all state for p on disconnect (§3 Lifecycle),
// including its membership in every topic's role sets.
func (s *Store) RemovePeer(p wire.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, p)
	for _, set := range s.gossipsub {
		delete(set, p)
	}
	for _, set := range s.mesh {
		delete(set, p)
	}
	for _, set := range s.fanout {
		delete(set, p)
	}
}

// AllPeers returns every known peer id.
func (s *Store) AllPeers() []wire.PeerID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]wire.PeerID, 0, len(s.peers))
	for id := range s.peers {
		out = append(out, id)
	}
	return out
}

func ensureSet(m map[wire.TopicID]map[wire.PeerID]struct{}, t wire.TopicID) map[wire.PeerID]struct{} {
	set, ok := m[t]
	if !ok {
		set = make(map[wire.PeerID]struct{})
		m[t] = set
	}
	return set
}

func peerSlice(set map[wire.PeerID]struct{}) []wire.PeerID {
	out := make([]wire.PeerID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// AddToGossipsub marks p as a known subscriber of t.
func (s *Store) AddToGossipsub(t wire.TopicID, p wire.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureSet(s.gossipsub, t)[p] = struct{}{}
}

func (s *Store) RemoveFromGossipsub(t wire.TopicID, p wire.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.gossipsub[t], p)
}

func (s *Store) GossipsubPeers(t wire.TopicID) []wire.PeerID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return peerSlice(s.gossipsub[t])
}

// AddToMesh adds p to t's mesh. Callers are responsible for enforcing
// the §3 invariant mesh[t] ∩ fanout[t] = ∅ by removing from fanout first.
func (s *Store) AddToMesh(t wire.TopicID, p wire.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureSet(s.mesh, t)[p] = struct{}{}
}

func (s *Store) RemoveFromMesh(t wire.TopicID, p wire.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mesh[t], p)
}

func (s *Store) InMesh(t wire.TopicID, p wire.PeerID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.mesh[t][p]
	return ok
}

func (s *Store) MeshPeers(t wire.TopicID) []wire.PeerID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return peerSlice(s.mesh[t])
}

func (s *Store) MeshSize(t wire.TopicID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.mesh[t])
}

// MeshTopics returns every topic that has had a mesh set created for it.
// A topic whose mesh has been emptied by removals is still listed.
func (s *Store) MeshTopics() []wire.TopicID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]wire.TopicID, 0, len(s.mesh))
	for t := range s.mesh {
		out = append(out, t)
	}
	return out
}

func (s *Store) AddToFanout(t wire.TopicID, p wire.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureSet(s.fanout, t)[p] = struct{}{}
}

func (s *Store) RemoveFromFanout(t wire.TopicID, p wire.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fanout[t], p)
}

func (s *Store) InFanout(t wire.TopicID, p wire.PeerID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.fanout[t][p]
	return ok
}

func (s *Store) FanoutPeers(t wire.TopicID) []wire.PeerID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return peerSlice(s.fanout[t])
}

// RemoveFanoutTopic drops all fanout state for t (used when the TTL
// expires, §4.8 step 3).
func (s *Store) RemoveFanoutTopic(t wire.TopicID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fanout, t)
	delete(s.fanoutLastPublish, t)
}

// FanoutTopics returns every topic with live fanout state and its last
// publish time.
func (s *Store) FanoutTopics() map[wire.TopicID]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[wire.TopicID]time.Time, len(s.fanoutLastPublish))
	for t, ts := range s.fanoutLastPublish {
		out[t] = ts
	}
	return out
}

// TouchFanoutPublish records that t was just published to via fanout,
// resetting its TTL clock.
func (s *Store) TouchFanoutPublish(t wire.TopicID, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fanoutLastPublish[t] = now
}

// ForEachPeer applies fn to every known peer. fn must not call back into
// the Store (it is invoked with the lock held), matching the read-heavy
// workload assumption in the teacher's PeerMap.
func (s *Store) ForEachPeer(fn func(id wire.PeerID, p *Peer)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, p := range s.peers {
		fn(id, p)
	}
}
