package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/config"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/mcache"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/meshstate"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

func TestHandleIHave_BelowGossipThreshold_Rejected(t *testing.T) {
	params := config.Default()
	h, _, _, scores, _ := newTestHandler(t, params)
	scores.score["p1"] = params.GossipThreshold - 1

	iwant := h.HandleIHave("p1", []wire.IHave{{Topic: "t1", MessageIDs: []wire.MessageID{"m1"}}})
	assert.Nil(t, iwant)
}

func TestHandleIHave_SkipsAlreadySeenAndDuplicates(t *testing.T) {
	params := config.Default()
	h, store, _, scores, _ := newTestHandler(t, params)
	scores.score["p1"] = 1
	store.EnsurePeer("p1").RefillBudgets(meshstate.Budgets{IHave: 10})

	seen := h.seen.(*fakeSeen)
	seen.seen[identitySalter{}.Salt("seenmsg")] = true

	iwant := h.HandleIHave("p1", []wire.IHave{
		{Topic: "t1", MessageIDs: []wire.MessageID{"seenmsg", "m1", "m1"}},
	})

	require.NotNil(t, iwant)
	assert.Equal(t, []wire.MessageID{"m1"}, iwant.MessageIDs)
}

func TestHandleIHave_RespectsBudget(t *testing.T) {
	params := config.Default()
	h, store, _, scores, _ := newTestHandler(t, params)
	scores.score["p1"] = 1
	store.EnsurePeer("p1").RefillBudgets(meshstate.Budgets{IHave: 1})

	iwant := h.HandleIHave("p1", []wire.IHave{
		{Topic: "t1", MessageIDs: []wire.MessageID{"m1", "m2", "m3"}},
	})

	require.NotNil(t, iwant)
	assert.Len(t, iwant.MessageIDs, 1)
}

func TestHandleIWant_FetchesFromCacheAndCountsUnknown(t *testing.T) {
	params := config.Default()
	h, store, _, scores, _ := newTestHandler(t, params)
	scores.score["p1"] = 1
	store.EnsurePeer("p1").RefillBudgets(meshstate.Budgets{IWant: 10})
	h.cache.Add(mcache.Message{ID: "m1", Topic: "t1"})

	found, unknown := h.HandleIWant("p1", []wire.IWant{{MessageIDs: []wire.MessageID{"m1", "missing"}}})

	require.Len(t, found, 1)
	assert.Equal(t, wire.MessageID("m1"), found[0].ID)
	assert.Equal(t, 1, unknown)
}

func TestHandleIWant_ReplayDefenseRejectsRepeatedAsk(t *testing.T) {
	params := config.Default()
	h, store, _, scores, _ := newTestHandler(t, params)
	scores.score["p1"] = 1
	store.EnsurePeer("p1").RefillBudgets(meshstate.Budgets{IWant: 10})
	h.cache.Add(mcache.Message{ID: "m1", Topic: "t1"})

	first, _ := h.HandleIWant("p1", []wire.IWant{{MessageIDs: []wire.MessageID{"m1"}}})
	second, _ := h.HandleIWant("p1", []wire.IWant{{MessageIDs: []wire.MessageID{"m1"}}})

	assert.Len(t, first, 1)
	assert.Empty(t, second, "asking for the same id twice must not be served again")
}

func TestHandleIWant_AbortsAfterTooManyInvalidRequests(t *testing.T) {
	params := config.Default()
	params.MaxIWantInvalidRequests = 2
	h, store, _, scores, _ := newTestHandler(t, params)
	scores.score["p1"] = 1
	peer := store.EnsurePeer("p1")
	peer.RefillBudgets(meshstate.Budgets{IWant: 10})
	// Pre-exhaust canAskIWant for a batch of ids so they all count as
	// invalid replay attempts.
	ids := []wire.MessageID{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		peer.CanAskIWant(id)
	}

	found, _ := h.HandleIWant("p1", []wire.IWant{{MessageIDs: ids}})
	assert.Empty(t, found)
}
