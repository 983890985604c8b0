package mesh

import (
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/control"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/heartbeat"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/metrics"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/net"
)

// options bundles everything New can default on its own, mirroring
// options.go's split between Scuttlebutt's required Create arguments
// and its optional Options fields.
type options struct {
	seen     net.SeenCache
	salter   net.Salter
	sprBook  net.SPRBook
	shuffler net.Shuffler
	clock    clock.Clock
	metrics  *metrics.Metrics

	heartbeatSubscribers []heartbeat.HeartbeatSubscriber
	meshObservers        []MeshObserver
	pexConsumers         []control.PeerExchangeConsumer
	inspector            control.RPCInspector
}

// Option configures a Router at construction time.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		seen:     net.NewTTLSeenCache(1<<16, 2*time.Minute),
		salter:   net.NewBlakeSalter(randomSecret()),
		sprBook:  net.NewMemorySPRBook(),
		shuffler: net.NewRandShuffler(time.Now().UnixNano()),
		clock:    clock.New(),
	}
}

func randomSecret() [16]byte {
	var secret [16]byte
	rand.New(rand.NewSource(time.Now().UnixNano())).Read(secret[:])
	return secret
}

// WithSeenCache overrides the default TTL-bounded seen-set, for an
// embedding pubsub host that already runs its own duplicate-detection
// layer and wants the mesh manager to defer to it.
func WithSeenCache(seen net.SeenCache) Option {
	return func(o *options) {
		o.seen = seen
	}
}

// WithSalter overrides the default blake2b-based id salter.
func WithSalter(salter net.Salter) Option {
	return func(o *options) {
		o.salter = salter
	}
}

// WithSPRBook overrides the default in-memory signed-peer-record book.
func WithSPRBook(book net.SPRBook) Option {
	return func(o *options) {
		o.sprBook = book
	}
}

// WithShuffler overrides the default math/rand-backed shuffler, for
// deterministic tests.
func WithShuffler(shuffler net.Shuffler) Option {
	return func(o *options) {
		o.shuffler = shuffler
	}
}

// WithClock overrides the default wall clock, for deterministic tests
// driving heartbeat and preamble expiry directly.
func WithClock(clk clock.Clock) Option {
	return func(o *options) {
		o.clock = clk
	}
}

// WithMetricsRegisterer registers the Router's Prometheus collectors
// against reg instead of a private registry.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.metrics = metrics.New(reg)
	}
}

// WithHeartbeatSubscriber registers s to be notified once per
// completed heartbeat tick.
func WithHeartbeatSubscriber(s HeartbeatSubscriber) Option {
	return func(o *options) {
		o.heartbeatSubscribers = append(o.heartbeatSubscribers, s)
	}
}

// WithMeshObserver registers o to be notified of every graft/prune
// applied to any topic's mesh, whether self-initiated (heartbeat
// rebalance) or peer-initiated (inbound GRAFT/PRUNE).
func WithMeshObserver(o MeshObserver) Option {
	return func(opts *options) {
		opts.meshObservers = append(opts.meshObservers, o)
	}
}

// WithPeerExchangeConsumer registers c to receive validated
// peer-exchange lists attached to evicting PRUNEs.
func WithPeerExchangeConsumer(c PeerExchangeConsumer) Option {
	return func(o *options) {
		o.pexConsumers = append(o.pexConsumers, c)
	}
}

// WithRPCInspector installs a hook that may reject an inbound RPC
// before it touches any mesh state.
func WithRPCInspector(inspector control.RPCInspector) Option {
	return func(o *options) {
		o.inspector = inspector
	}
}
