package mesh

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/config"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/mcache"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/net"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

func TestNew_RequiresTransportAndScores(t *testing.T) {
	_, err := New(Config{Scores: fakeScores{}})
	assert.Error(t, err)

	_, err = New(Config{Transport: net.NewMockNetwork().NewTransport("a")})
	assert.Error(t, err)
}

func TestNew_DefaultsParamsWhenUnset(t *testing.T) {
	r, err := New(Config{
		ID:        "a",
		Transport: net.NewMockNetwork().NewTransport("a"),
		Scores:    fakeScores{},
	})
	require.NoError(t, err)
	assert.Equal(t, config.Default().D, r.params.D)
}

func newTestRouter(t *testing.T, id wire.PeerID, mockNet *net.MockNetwork, params config.Params) *Router {
	t.Helper()
	r, err := New(Config{
		ID:        id,
		Transport: mockNet.NewTransport(id),
		Scores:    fakeScores{},
		Params:    params,
	})
	require.NoError(t, err)
	return r
}

func TestRouter_HeartbeatGraftsMeshPeerAndSendsRPC(t *testing.T) {
	params := config.Default()
	params.D, params.DLow, params.DHigh = 1, 1, 2

	mockNet := net.NewMockNetwork()
	a := newTestRouter(t, "a", mockNet, params)
	b := newTestRouter(t, "b", mockNet, params)

	a.Subscribe("t1")
	b.Subscribe("t1")
	a.AddGossipsubPeer("t1", "b")
	b.AddGossipsubPeer("t1", "a")

	require.NoError(t, a.drv.Tick(context.Background()))

	assert.True(t, a.InMesh("t1", "b"))

	select {
	case rpc := <-b.transport.(*net.MockTransport).Inbox():
		require.Len(t, rpc.Control.Grafts, 1)
		assert.Equal(t, wire.TopicID("t1"), rpc.Control.Grafts[0].Topic)
	default:
		t.Fatal("expected a GRAFT to have been sent to b")
	}
}

func TestRouter_ProcessDeliveryAppliesGraftAndNotifiesObserver(t *testing.T) {
	params := config.Default()
	params.D, params.DLow, params.DHigh = 4, 2, 8

	mockNet := net.NewMockNetwork()
	var grafted []wire.PeerID
	obs := meshObserverFunc{
		onGraft: func(t wire.TopicID, p wire.PeerID) { grafted = append(grafted, p) },
	}

	b, err := New(Config{
		ID:        "b",
		Transport: mockNet.NewTransport("b"),
		Scores:    fakeScores{},
		Params:    params,
	}, WithMeshObserver(obs))
	require.NoError(t, err)
	b.Subscribe("t1")

	rpc := &wire.RPC{From: "a", Control: wire.ControlMessage{Grafts: []wire.Graft{{Topic: "t1"}}}}
	result, err := b.processDelivery(context.Background(), rpc)
	require.NoError(t, err)
	assert.True(t, result.Outbound.IsEmpty())

	assert.True(t, b.InMesh("t1", "a"))
	assert.Equal(t, []wire.PeerID{"a"}, grafted)
}

type meshObserverFunc struct {
	onGraft func(t wire.TopicID, p wire.PeerID)
	onPrune func(t wire.TopicID, p wire.PeerID)
}

func (f meshObserverFunc) OnGraft(t wire.TopicID, p wire.PeerID) {
	if f.onGraft != nil {
		f.onGraft(t, p)
	}
}

func (f meshObserverFunc) OnPrune(t wire.TopicID, p wire.PeerID) {
	if f.onPrune != nil {
		f.onPrune(t, p)
	}
}

func TestRouter_PublishAddsToCacheAndTouchesFanout(t *testing.T) {
	mockNet := net.NewMockNetwork()
	r := newTestRouter(t, "a", mockNet, config.Default())

	msg := mcache.Message{ID: "m1", Topic: "unsubscribed", Payload: []byte("hi")}
	r.processPublish(msg)

	got, ok := r.cache.Get("m1")
	require.True(t, ok)
	assert.Equal(t, msg.Payload, got.Payload)

	_, touched := r.store.FanoutTopics()["unsubscribed"]
	assert.True(t, touched, "publishing to a topic we don't subscribe to must touch its fanout TTL clock")
}

func TestRouter_PublishToSubscribedTopicDoesNotTouchFanout(t *testing.T) {
	mockNet := net.NewMockNetwork()
	r := newTestRouter(t, "a", mockNet, config.Default())
	r.Subscribe("t1")

	r.processPublish(mcache.Message{ID: "m1", Topic: "t1", Payload: []byte("hi")})

	_, touched := r.store.FanoutTopics()["t1"]
	assert.False(t, touched)
}

func TestRouter_RunDeliverConverges(t *testing.T) {
	params := config.Default()
	params.D, params.DLow, params.DHigh = 1, 1, 2
	params.HeartbeatInterval = 5 * time.Millisecond

	mockNet := net.NewMockNetwork()
	a := newTestRouter(t, "a", mockNet, params)
	b := newTestRouter(t, "b", mockNet, params)

	a.Subscribe("t1")
	b.Subscribe("t1")
	a.AddGossipsubPeer("t1", "b")
	b.AddGossipsubPeer("t1", "a")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go a.Run(ctx)
	go b.Run(ctx)
	go pumpInbox(ctx, a)
	go pumpInbox(ctx, b)

	require.Eventually(t, func() bool {
		return a.InMesh("t1", "b") && b.InMesh("t1", "a")
	}, 2*time.Second, 5*time.Millisecond, "mesh never converged")
}

func pumpInbox(ctx context.Context, r *Router) {
	transport := r.transport.(*net.MockTransport)
	for {
		select {
		case <-ctx.Done():
			return
		case rpc, ok := <-transport.Inbox():
			if !ok {
				return
			}
			_, _ = r.Deliver(ctx, &rpc)
		}
	}
}
