package control

import "github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"

// HandleIDontWant applies §4.5's IDONTWANT rule: record each salted id
// against p's suppression set, capped at IDontWantMaxCount, and (when
// the preamble extension is active) forget any tracked heIsReceiving
// for it and offer p as an alternate sender.
func (h *Handler) HandleIDontWant(p wire.PeerID, idontwants []wire.IDontWant) {
	peer := h.store.EnsurePeer(p)
	for _, msg := range idontwants {
		for _, id := range msg.MessageIDs {
			salted := h.salter.Salt(id)
			peer.RecordIDontWant(salted, h.params.IDontWantMaxCount)
			if h.preamble != nil {
				peer.ClearHeIsReceiving(id)
				h.preamble.NoteAlternateSender(id, p)
			}
		}
	}
}
