package mesh

import "github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"

// fakeScores is a promiscuous net.ScoreSource: every peer is
// connected, outbound, neutrally scored and negotiated on the v1.4
// codec.
type fakeScores struct{}

func (fakeScores) Score(wire.PeerID) float64    { return 0 }
func (fakeScores) Connected(wire.PeerID) bool   { return true }
func (fakeScores) Outbound(wire.PeerID) bool    { return true }
func (fakeScores) Codec(wire.PeerID) wire.Codec { return wire.CodecV14 }
