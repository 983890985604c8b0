package mesh

import (
	"go.uber.org/zap"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/config"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/net"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

// Config carries the collaborators New has no sane default for: this
// node's identity, the transport it sends control traffic over, and
// the score source it must consult but not compute. Everything else
// is tuned through Option, mirroring the teacher's split of required
// Create(id, addr, ...Option) arguments from its optional Config
// fields.
type Config struct {
	// ID is this node's peer id, attached to every outbound RPC.
	ID wire.PeerID

	// Transport sends/broadcasts control-message RPCs to other peers.
	// Required.
	Transport net.Transport

	// Scores exposes per-peer score, connection state, direction and
	// negotiated codec. Required.
	Scores net.ScoreSource

	// Params holds the tunable GossipSub mesh parameters (§3, §4.1-
	// §4.8). The zero value is replaced with config.Default().
	Params config.Params

	// Logger receives every package's structured log output. Defaults
	// to a no-op logger when nil.
	Logger *zap.Logger
}
