package mesh

import (
	"github.com/multiformats/go-multiaddr"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

// MeshObserver is notified of every peer grafted into or pruned from
// any topic's mesh, whether the graft/prune was self-initiated by a
// heartbeat rebalance pass or driven by an inbound GRAFT/PRUNE from a
// peer. It generalizes the teacher's NodeSubscriber (cluster join/
// leave) to mesh membership, and is satisfied structurally by both
// internal/heartbeat.MeshObserver and internal/control.MeshObserver —
// a Router caller implements this one interface once and gets both.
type MeshObserver interface {
	OnGraft(t wire.TopicID, p wire.PeerID)
	OnPrune(t wire.TopicID, p wire.PeerID)
}

// HeartbeatSubscriber is notified once per completed heartbeat tick,
// matching internal/heartbeat.HeartbeatSubscriber and, before it, the
// teacher's StateSubscriber.OnTick hook.
type HeartbeatSubscriber interface {
	OnHeartbeat(tick int64)
}

// PeerExchangeConsumer receives validated peer-exchange lists attached
// to evicting PRUNEs (§4.4, §4.6), plus each listed peer's dial
// addresses extracted from its signed peer record where one was
// present.
type PeerExchangeConsumer interface {
	OnPeerExchange(topic wire.TopicID, peers []wire.PeerInfoMsg, addrs map[wire.PeerID][]multiaddr.Multiaddr)
}
