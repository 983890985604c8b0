package control

import (
	"go.uber.org/zap"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

// HandleGraft applies §4.3 to every graft in grafts and returns the
// PRUNEs, if any, that must be sent back to p.
func (h *Handler) HandleGraft(p wire.PeerID, grafts []wire.Graft) []wire.Prune {
	var prunes []wire.Prune
	for _, g := range grafts {
		if prune, ok := h.handleOneGraft(p, g.Topic); ok {
			prunes = append(prunes, prune)
		}
	}
	return prunes
}

func (h *Handler) handleOneGraft(p wire.PeerID, t wire.TopicID) (wire.Prune, bool) {
	now := h.now()

	if h.store.IsDirect(p) {
		peer := h.store.EnsurePeer(p)
		peer.PenalizeBehaviour(0.1)
		h.metrics.BehaviourPenalty.WithLabelValues("graft_direct_peer").Inc()
		h.backoff.Set(t, p, now.Add(h.params.PruneBackoff))
		h.metrics.PrunesSent.WithLabelValues("direct_peer_graft").Inc()
		return wire.Prune{Topic: t, BackoffSeconds: uint64(h.params.PruneBackoff.Seconds())}, true
	}

	if h.store.InMesh(t, p) {
		return wire.Prune{}, false
	}

	if until, ok := h.backoff.Until(t, p); ok && until.Sub(now) > 2*h.params.BackoffSlackTime {
		peer := h.store.EnsurePeer(p)
		peer.PenalizeBehaviour(0.1)
		h.metrics.BehaviourPenalty.WithLabelValues("graft_during_backoff").Inc()
		h.backoff.Set(t, p, until.Add(h.params.BackoffSlackTime))
		h.metrics.PrunesSent.WithLabelValues("graft_during_backoff").Inc()
		return wire.Prune{Topic: t, BackoffSeconds: uint64(h.params.PruneBackoff.Seconds())}, true
	}

	if h.scores.Score(p) < h.params.PublishThreshold {
		h.logger.Debug("ignoring graft below publishThreshold", zap.String("peer", p.String()), zap.String("topic", string(t)))
		return wire.Prune{}, false
	}

	if !h.store.IsSubscribed(t) {
		return wire.Prune{}, false
	}

	meshSize := h.store.MeshSize(t)
	outboundOK := h.scores.Outbound(p) && h.countOutbound(t) < h.params.DOut
	if meshSize < h.params.DHigh || outboundOK {
		h.store.EnsurePeer(p)
		h.store.RemoveFromFanout(t, p)
		h.store.AddToMesh(t, p)
		h.metrics.MeshSize.WithLabelValues(string(t)).Set(float64(h.store.MeshSize(t)))
		for _, o := range h.observers {
			o.OnGraft(t, p)
		}
		return wire.Prune{}, false
	}

	prune := wire.Prune{
		Topic:          t,
		Peers:          h.peerExchangeList(t),
		BackoffSeconds: uint64(h.params.PruneBackoff.Seconds()),
	}
	h.backoff.Set(t, p, now.Add(h.params.PruneBackoff))
	h.metrics.PrunesSent.WithLabelValues("mesh_full").Inc()
	return prune, true
}

func (h *Handler) countOutbound(t wire.TopicID) int {
	count := 0
	for _, p := range h.store.MeshPeers(t) {
		if h.scores.Outbound(p) {
			count++
		}
	}
	return count
}
