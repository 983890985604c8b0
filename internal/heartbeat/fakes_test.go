package heartbeat

import (
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

type fakeScores struct {
	score     map[wire.PeerID]float64
	connected map[wire.PeerID]bool
	outbound  map[wire.PeerID]bool
}

func newFakeScores() *fakeScores {
	return &fakeScores{
		score:     map[wire.PeerID]float64{},
		connected: map[wire.PeerID]bool{},
		outbound:  map[wire.PeerID]bool{},
	}
}

func (f *fakeScores) Score(p wire.PeerID) float64 { return f.score[p] }
func (f *fakeScores) Connected(p wire.PeerID) bool {
	if v, ok := f.connected[p]; ok {
		return v
	}
	return true
}
func (f *fakeScores) Outbound(p wire.PeerID) bool  { return f.outbound[p] }
func (f *fakeScores) Codec(wire.PeerID) wire.Codec { return wire.CodecV11 }

type fakeSPRBook struct{}

func (fakeSPRBook) Lookup(wire.PeerID) ([]byte, bool) { return nil, false }

type identitySalter struct{}

func (identitySalter) Salt(id wire.MessageID) wire.SaltedID {
	var out wire.SaltedID
	copy(out[:], []byte(id))
	return out
}

type noShuffle struct{}

func (noShuffle) Shuffle(int, func(i, j int)) {}
