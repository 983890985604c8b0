package control

import (
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

type fakeScores struct {
	score    map[wire.PeerID]float64
	outbound map[wire.PeerID]bool
	codec    map[wire.PeerID]wire.Codec
}

func newFakeScores() *fakeScores {
	return &fakeScores{
		score:    map[wire.PeerID]float64{},
		outbound: map[wire.PeerID]bool{},
		codec:    map[wire.PeerID]wire.Codec{},
	}
}

func (f *fakeScores) Score(p wire.PeerID) float64    { return f.score[p] }
func (f *fakeScores) Connected(wire.PeerID) bool     { return true }
func (f *fakeScores) Outbound(p wire.PeerID) bool    { return f.outbound[p] }
func (f *fakeScores) Codec(p wire.PeerID) wire.Codec { return f.codec[p] }

type fakeSeen struct {
	seen map[wire.SaltedID]bool
}

func newFakeSeen() *fakeSeen { return &fakeSeen{seen: map[wire.SaltedID]bool{}} }

func (f *fakeSeen) HasSeen(id wire.SaltedID) bool { return f.seen[id] }
func (f *fakeSeen) MarkSeen(id wire.SaltedID)     { f.seen[id] = true }

// identitySalter is a Salter stand-in that maps a MessageID directly
// into a SaltedID without hashing, so tests can assert on ids without
// reimplementing blake2b.
type identitySalter struct{}

func (identitySalter) Salt(id wire.MessageID) wire.SaltedID {
	var out wire.SaltedID
	copy(out[:], []byte(id))
	return out
}

type fakeSPRBook struct{}

func (fakeSPRBook) Lookup(wire.PeerID) ([]byte, bool) { return nil, false }

// noShuffle is a Shuffler that leaves order untouched, for deterministic
// assertions on IWANT contents.
type noShuffle struct{}

func (noShuffle) Shuffle(int, func(int, int)) {}
