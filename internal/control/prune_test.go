package control

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/config"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/mcache"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/meshstate"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/metrics"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

type recordingConsumer struct {
	calls []struct {
		topic wire.TopicID
		peers []wire.PeerInfoMsg
		addrs map[wire.PeerID][]multiaddr.Multiaddr
	}
}

func (r *recordingConsumer) OnPeerExchange(topic wire.TopicID, peers []wire.PeerInfoMsg, addrs map[wire.PeerID][]multiaddr.Multiaddr) {
	r.calls = append(r.calls, struct {
		topic wire.TopicID
		peers []wire.PeerInfoMsg
		addrs map[wire.PeerID][]multiaddr.Multiaddr
	}{topic, peers, addrs})
}

func TestHandlePrune_RemovesFromMeshAndInstallsBackoff(t *testing.T) {
	params := config.Default()
	h, store, backoff, _, clk := newTestHandler(t, params)
	store.AddToMesh("t1", "p1")

	h.HandlePrune("p1", []wire.Prune{{Topic: "t1", BackoffSeconds: 30}})

	assert.False(t, store.InMesh("t1", "p1"))
	assert.True(t, backoff.IsBackingOff("t1", "p1", clk.Now().Add(29*time.Second)))
}

func TestHandlePrune_BackoffNeverShortensExisting(t *testing.T) {
	params := config.Default()
	h, store, backoff, _, clk := newTestHandler(t, params)
	backoff.Set("t1", "p1", clk.Now().Add(time.Hour))

	h.HandlePrune("p1", []wire.Prune{{Topic: "t1", BackoffSeconds: 5}})

	until, ok := backoff.Until("t1", "p1")
	require.True(t, ok)
	assert.Equal(t, clk.Now().Add(time.Hour), until)
	_ = store
}

func TestHandlePrune_DropsUnsignedPeerExchangeAboveGossipThreshold(t *testing.T) {
	params := config.Default()
	store := meshstate.NewStore(params.HistoryLength, nil)
	backoff := meshstate.NewBackoffTable()
	cache := mcache.New(params.HistoryGossip, 100)
	clk := clock.NewMock()
	scores := newFakeScores()
	scores.score["p1"] = params.GossipThreshold + 1

	h := New(store, backoff, cache, scores, newFakeSeen(), identitySalter{}, fakeSPRBook{}, noShuffle{}, params, clk, metrics.Noop(), nil)
	consumer := &recordingConsumer{}
	h.AddPeerExchangeConsumer(consumer)

	// fakeSPRBook never has a record on file, but a peer without a
	// signed record must still be filtered out (validation requires one).
	h.HandlePrune("p1", []wire.Prune{{
		Topic: "t1",
		Peers: []wire.PeerInfoMsg{{PeerID: "alt1"}},
	}})

	assert.Empty(t, consumer.calls, "peers without a valid signed record must never reach a consumer")
}

func TestHandlePrune_SkipsPXBelowGossipThreshold(t *testing.T) {
	params := config.Default()
	h, _, _, scores, _ := newTestHandler(t, params)
	scores.score["p1"] = params.GossipThreshold - 1
	consumer := &recordingConsumer{}
	h.AddPeerExchangeConsumer(consumer)

	h.HandlePrune("p1", []wire.Prune{{
		Topic: "t1",
		Peers: []wire.PeerInfoMsg{{PeerID: "alt1"}},
	}})

	assert.Empty(t, consumer.calls)
}
