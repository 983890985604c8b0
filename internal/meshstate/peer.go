// Package meshstate owns the mutable per-peer and per-topic state the
// mesh manager operates on: the Peer State Store (§3, §4.1) and the
// three disjoint topic peer sets (gossipsub/mesh/fanout, §2.4).
//
// Peers are values owned exclusively by Store; every other component
// (topic sets, the backoff table) refers to them only by wire.PeerID,
// never by pointer, so a disconnect can never leave a dangling
// reference (spec.md §9's cyclic-reference note). This mirrors the
// teacher's PeerMap, which centrally owns *Peer values behind an
// RWMutex and hands out only copies/lookups.
package meshstate

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

// idSet is a set of ids sharing one heartbeat generation; it backs the
// deques of sentIHaves and iDontWants.
type idSet map[wire.SaltedID]struct{}

// generationRing is a fixed-capacity deque of idSets, one per historical
// heartbeat: pushing beyond capacity drops the oldest generation. It
// generalizes the teacher's ArrivalIntervals circular buffer
// (internal/arrivalwindow.go) from a buffer of numeric samples to a
// buffer of id sets.
type generationRing struct {
	generations []idSet
	capacity    int
}

func newGenerationRing(capacity int) *generationRing {
	return &generationRing{capacity: capacity}
}

// PushFront adds a fresh empty generation, evicting the oldest once the
// ring exceeds its capacity.
func (r *generationRing) PushFront(gen idSet) {
	r.generations = append([]idSet{gen}, r.generations...)
	if len(r.generations) > r.capacity {
		r.generations = r.generations[:r.capacity]
	}
}

// Newest returns the most recently pushed generation, creating one if
// none exists yet.
func (r *generationRing) Newest() idSet {
	if len(r.generations) == 0 {
		r.generations = append(r.generations, idSet{})
	}
	return r.generations[0]
}

// Contains reports whether any generation contains id.
func (r *generationRing) Contains(id wire.SaltedID) bool {
	for _, g := range r.generations {
		if _, ok := g[id]; ok {
			return true
		}
	}
	return false
}

func (r *generationRing) Len() int {
	return len(r.generations)
}

// Budgets holds the per-heartbeat allowances a peer is refilled to
// (spec.md §3, §4.8 step 1).
type Budgets struct {
	IHave    int32
	IWant    int32
	Ping     int32
	Preamble int32
}

// Peer is the mutable state the mesh manager tracks for one remote
// peer. Codec, score, outbound and connected are supplied by external
// collaborators (net.ScoreSource) and are not stored here; Peer only
// holds state the mesh manager itself owns.
type Peer struct {
	ID wire.PeerID

	budgets          Budgets
	behaviourPenalty float64

	sentIHaves *generationRing
	iDontWants *generationRing

	heIsSendings   map[wire.MessageID]time.Time
	heIsReceivings *lru.Cache[wire.MessageID, int]

	// askedIWant tracks ids this peer has already IWANTed once, to
	// enforce canAskIWant's "true at most once per id" replay defense
	// (§4.5).
	askedIWant map[wire.MessageID]struct{}

	downloadBps float64
}

// NewPeer returns a freshly observed peer with empty history rings sized
// to historyLength, a heIsReceivings cache bounded to
// defaultMaxHeIsReceiving entries, and default (zero) budgets. Call RefillBudgets before first
// use.
func NewPeer(id wire.PeerID, historyLength int) *Peer {
	return NewPeerWithCaps(id, historyLength, defaultMaxHeIsReceiving)
}

// defaultMaxHeIsReceiving is used by NewPeer for callers that do not
// care about the exact cap (tests, mostly); production callers should
// use NewPeerWithCaps with the configured MaxHeIsReceiving.
const defaultMaxHeIsReceiving = 256

// NewPeerWithCaps is NewPeer with an explicit heIsReceivings capacity.
func NewPeerWithCaps(id wire.PeerID, historyLength, maxHeIsReceiving int) *Peer {
	heIsReceivings, err := lru.New[wire.MessageID, int](maxHeIsReceiving)
	if err != nil {
		panic("meshstate: invalid heIsReceivings capacity")
	}
	return &Peer{
		ID:             id,
		sentIHaves:     newGenerationRing(historyLength),
		iDontWants:     newGenerationRing(historyLength),
		heIsSendings:   make(map[wire.MessageID]time.Time),
		heIsReceivings: heIsReceivings,
		askedIWant:     make(map[wire.MessageID]struct{}),
	}
}

// RefillBudgets resets every budget to its configured heartbeat
// allowance (§4.8 step 1).
func (p *Peer) RefillBudgets(b Budgets) {
	p.budgets = b
}

func (p *Peer) Budgets() Budgets { return p.budgets }

func (p *Peer) SpendIHave() bool {
	if p.budgets.IHave <= 0 {
		return false
	}
	p.budgets.IHave--
	return true
}

func (p *Peer) SpendIWant() bool {
	if p.budgets.IWant <= 0 {
		return false
	}
	p.budgets.IWant--
	return true
}

func (p *Peer) SpendPreamble() bool {
	if p.budgets.Preamble <= 0 {
		return false
	}
	p.budgets.Preamble--
	return true
}

// BehaviourPenalty returns the accumulated penalty read by the (external)
// scoring subsystem.
func (p *Peer) BehaviourPenalty() float64 { return p.behaviourPenalty }

// PenalizeBehaviour increases the behaviour penalty on a detected
// protocol violation (§4.3, §4.7).
func (p *Peer) PenalizeBehaviour(amount float64) {
	p.behaviourPenalty += amount
}

// AdvanceHistoryGeneration pushes a fresh, empty generation onto both
// sentIHaves and iDontWants, called once per heartbeat (§4.8 step 1).
func (p *Peer) AdvanceHistoryGeneration() {
	p.sentIHaves.PushFront(idSet{})
	p.iDontWants.PushFront(idSet{})
}

// RecordSentIHave records that id was advertised to this peer in the
// current heartbeat generation.
func (p *Peer) RecordSentIHave(id wire.SaltedID) {
	p.sentIHaves.Newest()[id] = struct{}{}
}

// CanAskIWant returns true the first time it is called for id, and false
// on every subsequent call — the replay defense in §4.5. It records the
// ask as a side effect.
func (p *Peer) CanAskIWant(id wire.MessageID) bool {
	if _, asked := p.askedIWant[id]; asked {
		return false
	}
	p.askedIWant[id] = struct{}{}
	return true
}

// RecordIDontWant records a salted id the peer told us not to send,
// bounded by maxCount; ids beyond the cap are silently dropped (§4.5,
// §7 "resource caps reached").
func (p *Peer) RecordIDontWant(id wire.SaltedID, maxCount int) {
	gen := p.iDontWants.Newest()
	if len(gen) >= maxCount {
		return
	}
	gen[id] = struct{}{}
}

// HasIDontWant reports whether any retained generation records id.
func (p *Peer) HasIDontWant(id wire.SaltedID) bool {
	return p.iDontWants.Contains(id)
}

func (p *Peer) SentIHaveGenerations() int { return p.sentIHaves.Len() }
func (p *Peer) IDontWantGenerations() int { return p.iDontWants.Len() }

// RecordHeIsSending records that this peer announced (via PREAMBLE) it
// is transmitting id.
func (p *Peer) RecordHeIsSending(id wire.MessageID, at time.Time) {
	p.heIsSendings[id] = at
}

func (p *Peer) IsSending(id wire.MessageID) bool {
	_, ok := p.heIsSendings[id]
	return ok
}

func (p *Peer) ClearHeIsSending(id wire.MessageID) {
	delete(p.heIsSendings, id)
}

// RecordHeIsReceiving records that this peer announced (via IMRECEIVING)
// it is receiving id of the given length. The LRU backing store bounds
// the set to MaxHeIsReceiving entries (§3, §4.7), evicting the least
// recently touched entry rather than rejecting the new one outright.
func (p *Peer) RecordHeIsReceiving(id wire.MessageID, length int) {
	p.heIsReceivings.Add(id, length)
}

func (p *Peer) HeIsReceivingLength(id wire.MessageID) (int, bool) {
	return p.heIsReceivings.Peek(id)
}

func (p *Peer) ClearHeIsReceiving(id wire.MessageID) {
	p.heIsReceivings.Remove(id)
}

// DownloadBps returns the smoothed download-bandwidth estimate used by
// the preamble subsystem (§4.7).
func (p *Peer) DownloadBps() float64 { return p.downloadBps }

// UpdateDownloadBps applies an exponential moving average update; alpha
// close to 1 favors the new sample.
func (p *Peer) UpdateDownloadBps(sampleBps, alpha float64) {
	if p.downloadBps == 0 {
		p.downloadBps = sampleBps
		return
	}
	p.downloadBps = alpha*sampleBps + (1-alpha)*p.downloadBps
}
