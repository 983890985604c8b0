package control

import (
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/mcache"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

// HandleIHave applies §4.5's IHAVE rule and returns the IWANT to send
// back to p, or nil if nothing is worth requesting.
func (h *Handler) HandleIHave(p wire.PeerID, ihaves []wire.IHave) *wire.IWant {
	if h.scores.Score(p) < h.params.GossipThreshold {
		return nil
	}
	peer := h.store.EnsurePeer(p)
	if peer.Budgets().IHave <= 0 {
		return nil
	}

	requested := make(map[wire.MessageID]struct{})
	var ids []wire.MessageID
	for _, ihave := range ihaves {
		for _, id := range ihave.MessageIDs {
			if peer.Budgets().IHave <= 0 {
				break
			}
			salted := h.salter.Salt(id)
			if h.seen.HasSeen(salted) {
				continue
			}
			if _, dup := requested[id]; dup {
				continue
			}
			if h.preamble != nil && h.preamble.IsTracked(id) {
				h.metrics.PreambleSavedIWant.Inc()
				h.preamble.NoteAlternateSender(id, p)
				continue
			}
			requested[id] = struct{}{}
			ids = append(ids, id)
			peer.SpendIHave()
		}
	}
	if len(ids) == 0 {
		return nil
	}

	h.shuffle(ids)
	h.metrics.IWantsSent.Inc()
	return &wire.IWant{MessageIDs: ids}
}

// HandleIWant applies §4.5's IWANT rule and returns the messages found
// in the cache. A peer's IWANT may request at most IWantPeerBudget ids
// from us per heartbeat generation; once spent, the remainder of the
// request is dropped rather than answered. Ids not present are counted
// as "unknown" and skipped; exceeding MaxIWantInvalidRequests aborts
// the remainder of the response.
func (h *Handler) HandleIWant(p wire.PeerID, iwants []wire.IWant) ([]mcache.Message, int) {
	if h.scores.Score(p) < h.params.GossipThreshold {
		return nil, 0
	}
	peer := h.store.EnsurePeer(p)

	var found []mcache.Message
	invalid := 0
	unknown := 0
outer:
	for _, iwant := range iwants {
		for _, id := range iwant.MessageIDs {
			if !peer.SpendIWant() {
				break outer
			}
			if !peer.CanAskIWant(id) {
				invalid++
				if invalid > h.params.MaxIWantInvalidRequests {
					h.metrics.IWantInvalidAborted.Inc()
					break outer
				}
				continue
			}
			msg, ok := h.cache.Get(id)
			if !ok {
				unknown++
				h.metrics.UnknownIWant.Inc()
				continue
			}
			found = append(found, msg)
		}
	}
	return found, unknown
}

// shuffle defeats remote truncation bias: a peer that only reads a
// prefix of our IWANT shouldn't consistently miss the same ids.
func (h *Handler) shuffle(ids []wire.MessageID) {
	h.shuffler.Shuffle(len(ids), func(i, j int) {
		ids[i], ids[j] = ids[j], ids[i]
	})
}
