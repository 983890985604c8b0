package control

import (
	"time"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/pex"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

// HandlePrune applies §4.4 to every prune p sent us: installs the
// (non-shortening) backoff, evicts the sender from the mesh, and
// forwards any validated peer-exchange list to registered consumers.
func (h *Handler) HandlePrune(from wire.PeerID, prunes []wire.Prune) {
	now := h.now()
	for _, prune := range prunes {
		backoff := time.Duration(prune.BackoffSeconds)*time.Second + h.params.BackoffSlackTime
		if backoff > h.params.MaxBackoff {
			backoff = h.params.MaxBackoff
		}
		if backoff < 0 {
			backoff = 0
		}
		h.backoff.Set(prune.Topic, from, now.Add(backoff))
		wasInMesh := h.store.InMesh(prune.Topic, from)
		h.store.RemoveFromMesh(prune.Topic, from)
		if wasInMesh {
			for _, o := range h.observers {
				o.OnPrune(prune.Topic, from)
			}
		}

		if h.scores.Score(from) <= h.params.GossipThreshold || len(prune.Peers) == 0 {
			continue
		}
		valid := pex.ValidateAndExtract(prune.Peers)
		if len(valid) == 0 {
			continue
		}
		addrs := pex.ExtractAllAddrs(valid)
		for _, consumer := range h.pexConsumers {
			consumer.OnPeerExchange(prune.Topic, valid, addrs)
		}
	}
}
