package preamble

import (
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

type fakeScores struct {
	score map[wire.PeerID]float64
	codec map[wire.PeerID]wire.Codec
}

func newFakeScores() *fakeScores {
	return &fakeScores{
		score: map[wire.PeerID]float64{},
		codec: map[wire.PeerID]wire.Codec{},
	}
}

func (f *fakeScores) Score(p wire.PeerID) float64 { return f.score[p] }
func (f *fakeScores) Connected(wire.PeerID) bool  { return true }
func (f *fakeScores) Outbound(wire.PeerID) bool   { return false }
func (f *fakeScores) Codec(p wire.PeerID) wire.Codec {
	if c, ok := f.codec[p]; ok {
		return c
	}
	return wire.CodecV14
}

type fakeSeen struct {
	seen map[wire.SaltedID]bool
}

func newFakeSeen() *fakeSeen { return &fakeSeen{seen: map[wire.SaltedID]bool{}} }

func (f *fakeSeen) HasSeen(id wire.SaltedID) bool { return f.seen[id] }
func (f *fakeSeen) MarkSeen(id wire.SaltedID)     { f.seen[id] = true }

// identitySalter maps a MessageID directly into a SaltedID without
// hashing, so tests can assert on ids without reimplementing blake2b.
type identitySalter struct{}

func (identitySalter) Salt(id wire.MessageID) wire.SaltedID {
	var out wire.SaltedID
	copy(out[:], []byte(id))
	return out
}

// noShuffle leaves order untouched, for deterministic retry-target
// assertions.
type noShuffle struct{}

func (noShuffle) Shuffle(int, func(int, int)) {}
