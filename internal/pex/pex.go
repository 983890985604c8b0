// Package pex builds and validates the peer-exchange lists attached to
// evicting PRUNEs (§4.4, §4.6's peerExchangeList). It has no teacher
// analogue — scuttlebutt never exchanges peer lists as part of its
// failure detector — so the record validation is grounded on
// go-libp2p's own signed-envelope machinery
// (github.com/libp2p/go-libp2p/core/record, core/peer) as used by
// _examples/other_examples/libp2p-go-libp2p-pubsub__pubsub.go's peer
// exchange and celestiaorg-celestia-node's host/identity wiring.
package pex

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/record"
	"github.com/multiformats/go-multiaddr"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/meshstate"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/net"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

// BuildList returns the peerExchangeList for topic t (§4.6): every
// gossipsub[t] peer with non-negative score, capped at maxPeers, each
// carrying its signed peer record when the SPRBook has one on file.
// Returns an empty list if px is disabled.
func BuildList(store *meshstate.Store, scores net.ScoreSource, sprBook net.SPRBook, t wire.TopicID, maxPeers int, enabled bool) []wire.PeerInfoMsg {
	if !enabled {
		return nil
	}

	candidates := store.GossipsubPeers(t)
	out := make([]wire.PeerInfoMsg, 0, len(candidates))
	for _, p := range candidates {
		if len(out) >= maxPeers {
			break
		}
		if scores.Score(p) < 0 {
			continue
		}
		info := wire.PeerInfoMsg{PeerID: p}
		if spr, ok := sprBook.Lookup(p); ok {
			info.SignedPeerRecord = spr
		}
		out = append(out, info)
	}
	return out
}

// ValidateAndExtract decodes each peer's attached signed peer record
// and discards any entry whose enclosed peer id does not match the
// record's own signed id (§4.4: "discard mismatches"). Entries with no
// attached record, or with a record that fails to parse, are dropped
// too — a caller cannot deliver what it cannot verify.
func ValidateAndExtract(peers []wire.PeerInfoMsg) []wire.PeerInfoMsg {
	valid := make([]wire.PeerInfoMsg, 0, len(peers))
	for _, info := range peers {
		if len(info.SignedPeerRecord) == 0 {
			continue
		}
		if err := verify(info); err != nil {
			continue
		}
		valid = append(valid, info)
	}
	return valid
}

func verify(info wire.PeerInfoMsg) error {
	_, untyped, err := record.ConsumeEnvelope(info.SignedPeerRecord, peer.PeerRecordEnvelopeDomain)
	if err != nil {
		return fmt.Errorf("pex: consume envelope: %w", err)
	}
	rec, ok := untyped.(*peer.PeerRecord)
	if !ok {
		return fmt.Errorf("pex: envelope payload is not a peer record")
	}
	if rec.PeerID != info.PeerID {
		return fmt.Errorf("pex: record peer id %s does not match claimed id %s", rec.PeerID, info.PeerID)
	}
	return nil
}

// ExtractAddrs returns the listen addresses embedded in a validated
// signed peer record, so a caller can feed a newly exchanged peer's
// dial addresses into a host's peerstore without reaching back into
// the envelope itself. Call only on records that already passed
// ValidateAndExtract.
func ExtractAddrs(info wire.PeerInfoMsg) ([]multiaddr.Multiaddr, error) {
	_, untyped, err := record.ConsumeEnvelope(info.SignedPeerRecord, peer.PeerRecordEnvelopeDomain)
	if err != nil {
		return nil, fmt.Errorf("pex: consume envelope: %w", err)
	}
	rec, ok := untyped.(*peer.PeerRecord)
	if !ok {
		return nil, fmt.Errorf("pex: envelope payload is not a peer record")
	}
	return rec.Addrs, nil
}

// ExtractAllAddrs runs ExtractAddrs over every already-validated entry,
// so a PeerExchangeConsumer can dial a newly exchanged peer without
// re-parsing its signed peer record. Entries whose addresses fail to
// extract are silently omitted; the peer id itself was already
// validated by ValidateAndExtract.
func ExtractAllAddrs(peers []wire.PeerInfoMsg) map[wire.PeerID][]multiaddr.Multiaddr {
	addrs := make(map[wire.PeerID][]multiaddr.Multiaddr, len(peers))
	for _, info := range peers {
		if a, err := ExtractAddrs(info); err == nil {
			addrs[info.PeerID] = a
		}
	}
	return addrs
}
