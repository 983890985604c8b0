// Package mesh is the public façade over the mesh manager: it wires
// internal/meshstate, internal/control, internal/heartbeat and
// internal/preamble into a single Router an embedding pubsub host
// drives by calling Deliver on every inbound RPC and Publish on every
// locally originated message, mirroring the way the teacher's root
// package exposes Create/Scuttlebutt while delegating real work to
// internal/protocol.go and internal/peermap.go.
package mesh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/config"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/control"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/heartbeat"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/mcache"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/meshstate"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/metrics"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/net"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/preamble"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

// Router owns every piece of mesh-manager state for one local peer. Its
// Run goroutine is the only one that touches internal/mcache.Cache,
// which documents itself as needing external synchronization, and the
// per-peer meshstate.Peer values, whose fields are not lock-guarded.
// meshstate.Store's own methods are mutex-guarded, so the query and
// registration methods below (Subscribe, AddGossipsubPeer, MeshSize,
// ...) call it directly from the caller's goroutine. Run must be the sole caller of
// the heartbeat and preamble tickers; Deliver and Publish hand their
// work to that same goroutine through delivery and publish queues
// instead of mutating state directly.
type Router struct {
	id wire.PeerID

	store     *meshstate.Store
	backoff   *meshstate.BackoffTable
	cache     *mcache.Cache
	handler   *control.Handler
	drv       *heartbeat.Driver
	tracker   *preamble.Tracker
	params    config.Params
	clock     clock.Clock
	metrics   *metrics.Metrics
	logger    *zap.Logger
	scores    net.ScoreSource
	seen      net.SeenCache
	salter    net.Salter
	transport net.Transport

	deliverCh chan deliverJob
	publishCh chan publishJob
	reportCh  chan reportJob
	stop      chan struct{}
	done      chan struct{}

	once sync.Once
}

type deliverJob struct {
	rpc    *wire.RPC
	result control.Result
	err    error
	done   chan struct{}
}

type publishJob struct {
	msg  mcache.Message
	done chan struct{}
}

type reportJob struct {
	id   wire.MessageID
	done chan struct{}
}

// New builds a Router from cfg and opts. cfg carries the collaborators
// that have no sane default (identity, transport, scores); opts tune
// everything else, matching options.go's functional-options split
// between Create's required arguments and its Option varargs.
func New(cfg Config, opts ...Option) (*Router, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("mesh: Config.Transport is required")
	}
	if cfg.Scores == nil {
		return nil, fmt.Errorf("mesh: Config.Scores is required")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	params := cfg.Params
	if params.D == 0 {
		params = config.Default()
	}

	directPeers := make([]wire.PeerID, 0, len(params.DirectPeers))
	for _, s := range params.DirectPeers {
		p, err := peer.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("mesh: invalid direct peer %q: %w", s, err)
		}
		directPeers = append(directPeers, p)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	m := o.metrics
	if m == nil {
		m = metrics.Noop()
	}

	store := meshstate.NewStoreWithCaps(params.HistoryLength, params.MaxHeIsReceiving, directPeers)
	backoff := meshstate.NewBackoffTable()
	cache := mcache.New(params.HistoryGossip, params.IHaveMaxLength)

	handler := control.New(store, backoff, cache, cfg.Scores, o.seen, o.salter, o.sprBook, o.shuffler, params, o.clock, m, logger)
	drv := heartbeat.New(store, backoff, cache, cfg.Scores, o.sprBook, o.salter, cfg.Transport, o.shuffler, params, o.clock, m, logger)

	r := &Router{
		id:        cfg.ID,
		store:     store,
		backoff:   backoff,
		cache:     cache,
		handler:   handler,
		drv:       drv,
		params:    params,
		clock:     o.clock,
		metrics:   m,
		logger:    logger,
		scores:    cfg.Scores,
		seen:      o.seen,
		salter:    o.salter,
		transport: cfg.Transport,
		deliverCh: make(chan deliverJob),
		publishCh: make(chan publishJob),
		reportCh:  make(chan reportJob),
	}

	if params.PreambleEnabled {
		r.tracker = preamble.New(store, cfg.Scores, o.seen, o.salter, cfg.Transport, o.shuffler, params, o.clock, m, logger)
		r.tracker.SetOnTerminalExpiry(func(id wire.MessageID, topic wire.TopicID) {
			r.logger.Warn("preamble reception terminally expired",
				zap.String("message-id", string(id)), zap.String("topic", string(topic)))
		})
		handler.SetPreambleTracker(r.tracker)
	}

	for _, sub := range o.heartbeatSubscribers {
		drv.AddSubscriber(sub)
	}
	for _, obs := range o.meshObservers {
		drv.AddMeshObserver(obs)
		handler.AddMeshObserver(obs)
	}
	for _, c := range o.pexConsumers {
		handler.AddPeerExchangeConsumer(c)
	}
	if o.inspector != nil {
		handler.SetRPCInspector(o.inspector)
	}

	return r, nil
}

// Subscribe marks t as a topic this node participates in for mesh
// purposes (spec.md §3's "subscribed topics").
func (r *Router) Subscribe(t wire.TopicID) {
	r.store.Subscribe(t)
}

// Unsubscribe drops t's mesh membership bookkeeping.
func (r *Router) Unsubscribe(t wire.TopicID) {
	r.store.Unsubscribe(t)
}

// AddGossipsubPeer marks p as connected on topic t's gossipsub peer
// set, the pool heartbeat rebalance picks GRAFT candidates from
// (§4.6). A caller normally drives this from its own connection
// manager's topic-subscription notifications; outside that, nothing
// else makes a remote peer a graft candidate.
func (r *Router) AddGossipsubPeer(t wire.TopicID, p wire.PeerID) {
	r.store.AddToGossipsub(t, p)
}

// RemoveGossipsubPeer evicts p from every set store.go's mesh/fanout/
// gossipsub bookkeeping tracks for t, mirroring a disconnect or
// unsubscribe notification from the connection manager.
func (r *Router) RemoveGossipsubPeer(t wire.TopicID, p wire.PeerID) {
	r.store.RemoveFromGossipsub(t, p)
	r.store.RemoveFromMesh(t, p)
	r.store.RemoveFromFanout(t, p)
}

// MeshSize returns the current mesh size for t.
func (r *Router) MeshSize(t wire.TopicID) int {
	return r.store.MeshSize(t)
}

// InMesh reports whether p is currently in t's mesh.
func (r *Router) InMesh(t wire.TopicID, p wire.PeerID) bool {
	return r.store.InMesh(t, p)
}

// Score returns p's current score from the configured net.ScoreSource,
// letting a caller explain why a peer was or wasn't grafted without
// holding its own reference to the score source.
func (r *Router) Score(p wire.PeerID) float64 {
	return r.scores.Score(p)
}

// Run is the Router's single event loop: it drives the heartbeat and
// preamble-expiry tickers and serializes every Deliver/Publish call
// behind the same goroutine, since mcache.Cache and the per-peer state
// require external synchronization. It blocks until ctx is cancelled
// or Stop is called. Grounded on scuttlebutt.go's gossipLoop, widened
// from one ticker to two plus an inbox, the way internal/gossiper.go's
// tick loop is widened by heartbeat.Driver.Run.
func (r *Router) Run(ctx context.Context) {
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	defer close(r.done)

	heartbeatTicker := r.clock.Ticker(r.params.HeartbeatInterval)
	defer heartbeatTicker.Stop()

	var preambleTicker *clock.Ticker
	if r.tracker != nil {
		preambleTicker = r.clock.Ticker(r.params.PreambleExpiryInterval)
		defer preambleTicker.Stop()
	}

	preambleTickC := preambleChannel(preambleTicker)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-heartbeatTicker.C:
			if err := r.drv.Tick(ctx); err != nil {
				r.logger.Warn("heartbeat tick returned errors", zap.Error(err))
			}
		case <-preambleTickC:
			r.tracker.Tick()
		case job := <-r.deliverCh:
			job.result, job.err = r.processDelivery(ctx, job.rpc)
			close(job.done)
		case job := <-r.publishCh:
			r.processPublish(job.msg)
			close(job.done)
		case job := <-r.reportCh:
			r.processReport(job.id)
			close(job.done)
		}
	}
}

// preambleChannel returns t's tick channel, or nil (which blocks
// forever in a select) when the preamble subsystem is disabled.
func preambleChannel(t *clock.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// Stop ends the Run loop and waits for it to exit.
func (r *Router) Stop() {
	r.once.Do(func() {
		if r.stop != nil {
			close(r.stop)
		}
	})
	if r.done != nil {
		<-r.done
	}
}

// Deliver hands an inbound RPC to the Router's event loop and blocks
// until it has been fully processed, returning the control traffic
// and fetched messages the pubsub base must still send/deliver.
func (r *Router) Deliver(ctx context.Context, rpc *wire.RPC) (control.Result, error) {
	job := deliverJob{rpc: rpc, done: make(chan struct{})}
	select {
	case r.deliverCh <- job:
	case <-ctx.Done():
		return control.Result{}, ctx.Err()
	}
	select {
	case <-job.done:
		return job.result, job.err
	case <-ctx.Done():
		return control.Result{}, ctx.Err()
	}
}

// processDelivery runs on the Run goroutine only.
func (r *Router) processDelivery(ctx context.Context, rpc *wire.RPC) (control.Result, error) {
	result, err := r.handler.Dispatch(rpc)
	if err != nil {
		return control.Result{}, err
	}

	if r.tracker != nil {
		r.tracker.HandlePreamble(rpc.From, rpc.Control.Preambles)
		r.tracker.HandleIMReceiving(rpc.From, rpc.Control.IMReceivings)
	}

	if !result.Outbound.IsEmpty() {
		out := wire.RPC{From: r.id, Control: result.Outbound}
		if err := r.transport.Send(ctx, rpc.From, &out, true); err != nil {
			r.metrics.SendFailures.WithLabelValues("dispatch_reply").Inc()
			r.logger.Warn("failed to send dispatch reply", zap.Error(err))
		}
	}

	return result, nil
}

// Publish records a locally originated message so it can satisfy
// future IWANTs and be advertised via IHAVE at the next heartbeat
// (§4.2, §4.8 step 6), touching the fanout TTL clock when t is a
// publish-only topic we don't subscribe to (§4.8 step 3, "drop fanout
// topics whose last publish was > fanoutTTL ago"). The caller — the
// surrounding pubsub base — is responsible for computing id and for
// actually placing payload on the wire to mesh/fanout peers; this
// module only keeps the bookkeeping a later GRAFT/IWANT needs.
func (r *Router) Publish(ctx context.Context, t wire.TopicID, id wire.MessageID, payload []byte) error {
	job := publishJob{
		msg:  mcache.Message{ID: id, Topic: t, Payload: payload},
		done: make(chan struct{}),
	}
	select {
	case r.publishCh <- job:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-job.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) processPublish(msg mcache.Message) {
	r.cache.Add(msg)
	r.seen.MarkSeen(r.salter.Salt(msg.ID))
	if !r.store.IsSubscribed(msg.Topic) {
		r.store.TouchFanoutPublish(msg.Topic, r.clock.Now())
	}
}

// ReportMessageReceived tells the router that id's payload has fully
// arrived, letting the §4.7 bandwidth estimator learn the sender's real
// throughput. This module only ever sees control traffic, so the
// embedding pubsub host — which does see the data plane — is
// responsible for calling this once per completed reception. A no-op
// when the preamble subsystem is disabled.
func (r *Router) ReportMessageReceived(ctx context.Context, id wire.MessageID) error {
	job := reportJob{id: id, done: make(chan struct{})}
	select {
	case r.reportCh <- job:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-job.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) processReport(id wire.MessageID) {
	if r.tracker == nil {
		return
	}
	r.tracker.HandleMessageReceived(id, r.clock.Now())
}

// MeshPeers returns the current mesh membership for t, for a caller
// that needs to push the message payload itself.
func (r *Router) MeshPeers(t wire.TopicID) []wire.PeerID {
	return r.store.MeshPeers(t)
}

// FanoutPeers returns the current fanout membership for t.
func (r *Router) FanoutPeers(t wire.TopicID) []wire.PeerID {
	return r.store.FanoutPeers(t)
}
