package pex

import (
	"crypto/rand"
	"testing"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/meshstate"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

func sealedRecord(t *testing.T, id peer.ID, priv crypto.PrivKey) []byte {
	t.Helper()
	rec := &peer.PeerRecord{PeerID: id, Seq: 1}
	envelope, err := record.Seal(rec, priv)
	require.NoError(t, err)
	data, err := envelope.Marshal()
	require.NoError(t, err)
	return data
}

type fakeScores struct {
	scores map[wire.PeerID]float64
}

func (f fakeScores) Score(p wire.PeerID) float64 { return f.scores[p] }
func (f fakeScores) Connected(wire.PeerID) bool   { return true }
func (f fakeScores) Outbound(wire.PeerID) bool    { return true }
func (f fakeScores) Codec(wire.PeerID) wire.Codec { return wire.CodecV12 }

type fakeSPRBook struct {
	records map[wire.PeerID][]byte
}

func (f fakeSPRBook) Lookup(p wire.PeerID) ([]byte, bool) {
	r, ok := f.records[p]
	return r, ok
}

func TestBuildList_FiltersByScoreAndCap(t *testing.T) {
	store := meshstate.NewStore(4, nil)
	store.AddToGossipsub("t1", "p1")
	store.AddToGossipsub("t1", "p2")
	store.AddToGossipsub("t1", "p3")

	scores := fakeScores{scores: map[wire.PeerID]float64{"p1": 1, "p2": -5, "p3": 0}}
	sprBook := fakeSPRBook{records: map[wire.PeerID][]byte{}}

	list := BuildList(store, scores, sprBook, "t1", 10, true)
	assert.Len(t, list, 2, "peer p2 has a negative score and must be excluded")
}

func TestBuildList_DisabledReturnsEmpty(t *testing.T) {
	store := meshstate.NewStore(4, nil)
	store.AddToGossipsub("t1", "p1")
	scores := fakeScores{scores: map[wire.PeerID]float64{"p1": 1}}
	sprBook := fakeSPRBook{records: map[wire.PeerID][]byte{}}

	list := BuildList(store, scores, sprBook, "t1", 10, false)
	assert.Empty(t, list)
}

func TestValidateAndExtract_DiscardsMismatchedRecord(t *testing.T) {
	priv1, _, err := crypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	priv2, _, err := crypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)

	id1, err := peer.IDFromPrivateKey(priv1)
	require.NoError(t, err)
	id2, err := peer.IDFromPrivateKey(priv2)
	require.NoError(t, err)

	honest := wire.PeerInfoMsg{PeerID: wire.PeerID(id1), SignedPeerRecord: sealedRecord(t, id1, priv1)}
	// Record is validly signed by priv2, but claims to be id1 — a
	// mismatch that must be discarded.
	spoofed := wire.PeerInfoMsg{PeerID: wire.PeerID(id1), SignedPeerRecord: sealedRecord(t, id2, priv2)}
	empty := wire.PeerInfoMsg{PeerID: wire.PeerID(id2)}

	valid := ValidateAndExtract([]wire.PeerInfoMsg{honest, spoofed, empty})

	require.Len(t, valid, 1)
	assert.Equal(t, wire.PeerID(id1), valid[0].PeerID)
}
