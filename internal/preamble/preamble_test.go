package preamble

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/config"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/meshstate"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/net"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

func newTestTracker(t *testing.T, params config.Params) (*Tracker, *meshstate.Store, *fakeScores, *net.MockNetwork, *clock.Mock) {
	t.Helper()
	store := meshstate.NewStore(params.HistoryLength, nil)
	scores := newFakeScores()
	mockClock := clock.NewMock()
	mockNet := net.NewMockNetwork()
	self := mockNet.NewTransport("self")

	tr := New(store, scores, newFakeSeen(), identitySalter{}, self, noShuffle{}, params, mockClock, nil, nil)
	return tr, store, scores, mockNet, mockClock
}

func TestHandlePreamble_NonMeshSenderTracksAsIWantReceive(t *testing.T) {
	params := config.Default()
	tr, store, _, _, _ := newTestTracker(t, params)
	store.Subscribe("t1")
	store.EnsurePeer("p1").RefillBudgets(meshstate.Budgets{Preamble: params.PreamblePeerBudget})

	tr.HandlePreamble("p1", []wire.Preamble{{MessageID: "m1", Topic: "t1", MessageLength: 100}})

	assert.True(t, tr.IsTracked("m1"))
	assert.Contains(t, tr.ongoingIWantReceives, wire.MessageID("m1"))
	assert.NotContains(t, tr.ongoingReceives, wire.MessageID("m1"))
}

func TestHandlePreamble_MeshSenderTracksAsReceive(t *testing.T) {
	params := config.Default()
	tr, store, _, _, _ := newTestTracker(t, params)
	store.Subscribe("t1")
	store.AddToMesh("t1", "p1")
	store.EnsurePeer("p1").RefillBudgets(meshstate.Budgets{Preamble: params.PreamblePeerBudget})

	tr.HandlePreamble("p1", []wire.Preamble{{MessageID: "m1", Topic: "t1", MessageLength: 100}})

	assert.Contains(t, tr.ongoingReceives, wire.MessageID("m1"))
}

func TestHandlePreamble_BroadcastsIMReceivingWhenSenderIsFastest(t *testing.T) {
	params := config.Default()
	tr, store, _, mockNet, _ := newTestTracker(t, params)
	peer2 := mockNet.NewTransport("p2")
	store.Subscribe("t1")
	store.AddToMesh("t1", "p1")
	store.AddToMesh("t1", "p2")

	sender := store.EnsurePeer("p1")
	sender.UpdateDownloadBps(1_000_000, 1.0)
	sender.RefillBudgets(meshstate.Budgets{Preamble: params.PreamblePeerBudget})
	recipient := store.EnsurePeer("p2")
	recipient.UpdateDownloadBps(10, 1.0)

	tr.HandlePreamble("p1", []wire.Preamble{{MessageID: "m1", Topic: "t1", MessageLength: 100}})

	select {
	case rpc := <-peer2.Inbox():
		require.Len(t, rpc.Control.IMReceivings, 1)
		assert.Equal(t, wire.MessageID("m1"), rpc.Control.IMReceivings[0].MessageID)
	default:
		t.Fatal("expected p2 to receive an IMReceiving broadcast")
	}
}

func TestHandlePreamble_SkipsWhenAlreadySending(t *testing.T) {
	params := config.Default()
	tr, store, _, _, mockClock := newTestTracker(t, params)
	store.Subscribe("t1")
	store.AddToMesh("t1", "p1")
	peer := store.EnsurePeer("p1")
	peer.RefillBudgets(meshstate.Budgets{Preamble: params.PreamblePeerBudget})
	peer.RecordHeIsSending("m1", mockClock.Now())

	tr.HandlePreamble("p1", []wire.Preamble{{MessageID: "m1", Topic: "t1", MessageLength: 100}})

	assert.False(t, tr.IsTracked("m1"))
}

func TestHandlePreamble_StopsOnceBudgetExhausted(t *testing.T) {
	params := config.Default()
	params.PreamblePeerBudget = 1
	tr, store, _, _, _ := newTestTracker(t, params)
	store.Subscribe("t1")
	store.AddToMesh("t1", "p1")
	peer := store.EnsurePeer("p1")
	peer.RefillBudgets(meshstate.Budgets{Preamble: params.PreamblePeerBudget})

	tr.HandlePreamble("p1", []wire.Preamble{
		{MessageID: "m1", Topic: "t1", MessageLength: 100},
		{MessageID: "m2", Topic: "t1", MessageLength: 100},
	})

	assert.True(t, tr.IsTracked("m1"))
	assert.False(t, tr.IsTracked("m2"))
}

func TestHandleIMReceiving_RecordsHeIsReceiving(t *testing.T) {
	params := config.Default()
	tr, store, _, _, _ := newTestTracker(t, params)
	store.EnsurePeer("p1")

	tr.HandleIMReceiving("p1", []wire.IMReceiving{{MessageID: "m1", MessageLength: 100}})

	peer, ok := store.Peer("p1")
	require.True(t, ok)
	length, ok := peer.HeIsReceivingLength("m1")
	require.True(t, ok)
	assert.Equal(t, 100, length)
}

func TestHandleIMReceiving_IgnoresLengthConflict(t *testing.T) {
	params := config.Default()
	tr, store, _, _, _ := newTestTracker(t, params)
	store.Subscribe("t1")
	store.AddToMesh("t1", "sender")
	store.EnsurePeer("sender").RefillBudgets(meshstate.Budgets{Preamble: params.PreamblePeerBudget})
	tr.HandlePreamble("sender", []wire.Preamble{{MessageID: "m1", Topic: "t1", MessageLength: 100}})

	tr.HandleIMReceiving("p1", []wire.IMReceiving{{MessageID: "m1", MessageLength: 999}})

	_, ok := store.Peer("p1")
	assert.False(t, ok, "conflicting length must be dropped before any peer state for p1 is created")
}

func TestTick_ExpiredReceiveRetriesAgainstAlternateSender(t *testing.T) {
	params := config.Default()
	params.PreamblePullModeEnabled = true
	tr, store, _, mockNet, mockClock := newTestTracker(t, params)
	alt := mockNet.NewTransport("alt")
	store.Subscribe("t1")
	store.AddToMesh("t1", "slow")
	store.EnsurePeer("slow").RefillBudgets(meshstate.Budgets{Preamble: params.PreamblePeerBudget})

	tr.HandlePreamble("slow", []wire.Preamble{{MessageID: "m1", Topic: "t1", MessageLength: 100}})
	require.True(t, tr.IsTracked("m1"))
	tr.NoteAlternateSender("m1", "alt")

	mockClock.Add(time.Hour)
	tr.Tick()

	assert.Contains(t, tr.ongoingIWantReceives, wire.MessageID("m1"))
	assert.NotContains(t, tr.ongoingReceives, wire.MessageID("m1"))

	select {
	case rpc := <-alt.Inbox():
		require.Len(t, rpc.Control.IWants, 1)
		assert.Equal(t, []wire.MessageID{"m1"}, rpc.Control.IWants[0].MessageIDs)
	default:
		t.Fatal("expected alt to receive a retry IWANT")
	}

	peer, ok := store.Peer("slow")
	require.True(t, ok)
	assert.Greater(t, peer.BehaviourPenalty(), 0.0)
}

func TestTick_ExpiredIWantReceiveIsTerminal(t *testing.T) {
	params := config.Default()
	tr, store, _, _, mockClock := newTestTracker(t, params)
	store.Subscribe("t1")
	store.EnsurePeer("p1").RefillBudgets(meshstate.Budgets{Preamble: params.PreamblePeerBudget})

	tr.HandlePreamble("p1", []wire.Preamble{{MessageID: "m1", Topic: "t1", MessageLength: 100}})
	require.Contains(t, tr.ongoingIWantReceives, wire.MessageID("m1"))

	var expired wire.MessageID
	tr.SetOnTerminalExpiry(func(id wire.MessageID, topic wire.TopicID) {
		expired = id
	})

	mockClock.Add(time.Hour)
	tr.Tick()

	assert.Equal(t, wire.MessageID("m1"), expired)
	assert.False(t, tr.IsTracked("m1"))
}

func TestNoteAlternateSender_IgnoresUntrackedID(t *testing.T) {
	params := config.Default()
	tr, _, _, _, _ := newTestTracker(t, params)
	tr.NoteAlternateSender("unknown", "p1")
	assert.False(t, tr.IsTracked("unknown"))
}
