// Package net defines the narrow interfaces the mesh manager consumes
// from the surrounding pubsub host: transport, peer scoring, seen-set
// membership, id salting, signed peer record lookup and shuffling.
// These mirror spec.md §6's "Consumed interfaces" and are the seam
// across which the transport layer, connection management, peer
// identification and the peer-scoring subsystem stay external
// collaborators rather than part of the mesh manager itself.
package net

import (
	"context"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

// Transport sends control-message RPCs to individual peers or broadcasts
// them to a set of peers. highPriority mirrors the real pubsub base's
// distinction between control-plane traffic (grafts, prunes) and
// best-effort gossip.
type Transport interface {
	Send(ctx context.Context, to wire.PeerID, rpc *wire.RPC, highPriority bool) error
	Broadcast(ctx context.Context, to []wire.PeerID, rpc *wire.RPC, highPriority bool) error
}

// ScoreSource exposes the per-peer facts the mesh manager needs but does
// not compute itself: the scalar score (opaque to the core), connection
// state, direction and negotiated codec.
type ScoreSource interface {
	Score(p wire.PeerID) float64
	Connected(p wire.PeerID) bool
	Outbound(p wire.PeerID) bool
	Codec(p wire.PeerID) wire.Codec
}

// SeenCache reports whether a salted message id has already been
// observed by the pubsub base's duplicate-detection layer, and lets a
// caller mark an id seen directly rather than relying on HasSeen's
// own query-marks-it-seen side effect (which a read-only duplicate-
// detection layer backing a real pubsub base won't have).
type SeenCache interface {
	HasSeen(id wire.SaltedID) bool
	MarkSeen(id wire.SaltedID)
}

// Salter derives a per-node-secret keyed hash of a message id, so the
// seen-set cannot be predicted by a remote peer.
type Salter interface {
	Salt(id wire.MessageID) wire.SaltedID
}

// SPRBook looks up a peer's signed peer record for attachment to
// outbound PRUNE peer-exchange lists.
type SPRBook interface {
	Lookup(p wire.PeerID) ([]byte, bool)
}

// Shuffler performs an in-place uniform shuffle, matching the standard
// library's rand.Shuffle signature so a caller can inject a seeded
// source for deterministic tests.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}
