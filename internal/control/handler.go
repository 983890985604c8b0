// Package control implements the GRAFT/PRUNE/IHAVE/IWANT/IDONTWANT
// handlers (§4.3-4.5): pure decode-then-mutate-state-then-respond
// functions grounded on the teacher's internal/protocol.go
// (handleDigest/handleDelta's decode → mutate peer map → build response
// shape) and internal/gossiper.go's dispatch-by-message-type switch.
package control

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/config"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/mcache"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/meshstate"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/metrics"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/net"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/pex"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

// PeerExchangeConsumer receives validated peer-exchange lists attached
// to evicting PRUNEs (§4.4), plus each listed peer's dial addresses
// extracted from its signed peer record where one was present.
type PeerExchangeConsumer interface {
	OnPeerExchange(topic wire.TopicID, peers []wire.PeerInfoMsg, addrs map[wire.PeerID][]multiaddr.Multiaddr)
}

// MeshObserver is notified every time an inbound GRAFT is accepted
// into a mesh, or an inbound PRUNE evicts a peer from one. Mirrors
// internal/heartbeat.MeshObserver's self-initiated counterpart.
type MeshObserver interface {
	OnGraft(t wire.TopicID, p wire.PeerID)
	OnPrune(t wire.TopicID, p wire.PeerID)
}

// RPCInspector may reject or audit an inbound RPC before it touches
// mesh state. Returning a non-nil error drops the RPC entirely.
// Grounded on onflow-flow-go's gossipsub_rpc_inspectors.go and
// go-libp2p-pubsub's WithAppSpecificRpcInspector.
type RPCInspector func(from wire.PeerID, rpc *wire.ControlMessage) error

// Handler owns the collaborators every control-message handler needs:
// the state store, backoff table, message cache and the external
// facts (scores, seen-set, salting) it must consult but not compute.
type Handler struct {
	store    *meshstate.Store
	backoff  *meshstate.BackoffTable
	cache    *mcache.Cache
	scores   net.ScoreSource
	seen     net.SeenCache
	salter   net.Salter
	sprBook  net.SPRBook
	shuffler net.Shuffler
	params   config.Params
	clock    clock.Clock
	metrics  *metrics.Metrics
	logger   *zap.Logger

	inspector    RPCInspector
	pexConsumers []PeerExchangeConsumer
	preamble     PreambleTracker
	observers    []MeshObserver
}

// New returns a Handler. logger defaults to a no-op logger when nil,
// matching the teacher's defaultOptions() convention.
func New(store *meshstate.Store, backoff *meshstate.BackoffTable, cache *mcache.Cache, scores net.ScoreSource, seen net.SeenCache, salter net.Salter, sprBook net.SPRBook, shuffler net.Shuffler, params config.Params, clk clock.Clock, m *metrics.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	if m == nil {
		m = metrics.Noop()
	}
	if shuffler == nil {
		shuffler = net.NewRandShuffler(time.Now().UnixNano())
	}
	return &Handler{
		store:    store,
		backoff:  backoff,
		cache:    cache,
		scores:   scores,
		seen:     seen,
		salter:   salter,
		sprBook:  sprBook,
		shuffler: shuffler,
		params:   params,
		clock:    clk,
		metrics:  m,
		logger:   logger,
	}
}

// SetRPCInspector installs the optional inspector hook.
func (h *Handler) SetRPCInspector(inspector RPCInspector) {
	h.inspector = inspector
}

// AddPeerExchangeConsumer registers c to receive future peer-exchange
// deliveries.
func (h *Handler) AddPeerExchangeConsumer(c PeerExchangeConsumer) {
	h.pexConsumers = append(h.pexConsumers, c)
}

// AddMeshObserver registers o to be notified of every inbound
// graft/prune this handler applies.
func (h *Handler) AddMeshObserver(o MeshObserver) {
	h.observers = append(h.observers, o)
}

// PreambleTracker exposes the two facts internal/control needs from the
// preamble subsystem (§4.5, §4.7): whether an id is already an
// in-flight reception, and how to note that a peer offered it via
// IHAVE/IDONTWANT so a future timeout can retry against them.
type PreambleTracker interface {
	IsTracked(id wire.MessageID) bool
	NoteAlternateSender(id wire.MessageID, from wire.PeerID)
}

// SetPreambleTracker wires the preamble subsystem in. Leaving it unset
// is equivalent to running with the extension disabled.
func (h *Handler) SetPreambleTracker(t PreambleTracker) {
	h.preamble = t
}

// Result is everything a call into the control handlers produced: the
// control messages to send back to the originating peer, and (for
// IWANT) the messages fetched from the cache for the pubsub base to
// deliver.
type Result struct {
	Outbound        wire.ControlMessage
	FetchedMessages []mcache.Message
}

// Dispatch runs the inspector hook (if any) and then every submessage
// handler in turn, in the fixed order GRAFT, PRUNE, IHAVE, IWANT,
// IDONTWANT — matching how a single inbound RPC piggybacks all of
// these and the handlers must be applied in the order the sender wrote
// them (spec.md §5: "handlers never assume state is unchanged").
func (h *Handler) Dispatch(rpc *wire.RPC) (Result, error) {
	if h.inspector != nil {
		if err := h.inspector(rpc.From, &rpc.Control); err != nil {
			h.logger.Debug("rpc rejected by inspector", zap.String("peer", rpc.From.String()), zap.Error(err))
			return Result{}, err
		}
	}

	var out Result
	out.Outbound.Prunes = append(out.Outbound.Prunes, h.HandleGraft(rpc.From, rpc.Control.Grafts)...)
	h.HandlePrune(rpc.From, rpc.Control.Prunes)
	if iwant := h.HandleIHave(rpc.From, rpc.Control.IHaves); iwant != nil {
		out.Outbound.IWants = append(out.Outbound.IWants, *iwant)
	}
	found, _ := h.HandleIWant(rpc.From, rpc.Control.IWants)
	out.FetchedMessages = append(out.FetchedMessages, found...)
	h.HandleIDontWant(rpc.From, rpc.Control.IDontWants)

	return out, nil
}

func (h *Handler) now() time.Time {
	return h.clock.Now()
}

// peerExchangeList builds the PX list attached to an evicting PRUNE for
// topic t (§4.6's "Peer Exchange list").
func (h *Handler) peerExchangeList(t wire.TopicID) []wire.PeerInfoMsg {
	return pex.BuildList(h.store, h.scores, h.sprBook, t, 2*h.params.DHigh, h.params.PeerExchangeEnabled)
}
