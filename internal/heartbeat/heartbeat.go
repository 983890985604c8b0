// Package heartbeat implements the periodic driver that ages state,
// rebalances every topic's mesh and emits gossip (§4.6, §4.8). It is
// grounded on the teacher's internal/gossiper.go's tick loop (a
// clock.Ticker driving one pass over the peer map per interval) and
// generalized from scuttlebutt's single digest-exchange pass to the
// mesh manager's seven-step heartbeat.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/config"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/mcache"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/meshstate"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/metrics"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/net"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/pex"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

// HeartbeatSubscriber is notified once per completed heartbeat tick,
// mirroring the teacher's StateSubscriber.OnTick hook.
type HeartbeatSubscriber interface {
	OnHeartbeat(tick int64)
}

// MeshObserver is notified of every peer a heartbeat rebalance pass
// grafts into or prunes from a topic's mesh, mirroring the teacher's
// NodeSubscriber join/leave hooks applied to mesh membership instead
// of cluster membership.
type MeshObserver interface {
	OnGraft(t wire.TopicID, p wire.PeerID)
	OnPrune(t wire.TopicID, p wire.PeerID)
}

// Driver owns the periodic tick that ages mesh state and emits the
// resulting control traffic. Unlike internal/control's Handler, which
// reacts to inbound RPCs, Driver sends on its own heartbeat schedule;
// the only other timer-driven sender is internal/preamble's Tracker,
// whose expiry tick sends retry IWANTs.
type Driver struct {
	store     *meshstate.Store
	backoff   *meshstate.BackoffTable
	cache     *mcache.Cache
	scores    net.ScoreSource
	sprBook   net.SPRBook
	salter    net.Salter
	transport net.Transport
	shuffler  net.Shuffler
	params    config.Params
	clock     clock.Clock
	metrics   *metrics.Metrics
	logger    *zap.Logger

	subscribers []HeartbeatSubscriber
	observers   []MeshObserver
	tick        int64

	stop chan struct{}
	done chan struct{}
}

// New returns a Driver. Nil collaborators fall back the same way
// internal/control.New does.
func New(store *meshstate.Store, backoff *meshstate.BackoffTable, cache *mcache.Cache, scores net.ScoreSource, sprBook net.SPRBook, salter net.Salter, transport net.Transport, shuffler net.Shuffler, params config.Params, clk clock.Clock, m *metrics.Metrics, logger *zap.Logger) *Driver {
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
	return &Driver{
		store:     store,
		backoff:   backoff,
		cache:     cache,
		scores:    scores,
		sprBook:   sprBook,
		salter:    salter,
		transport: transport,
		shuffler:  shuffler,
		params:    params,
		clock:     clk,
		metrics:   m,
		logger:    logger,
	}
}

// AddSubscriber registers s to be notified after every tick.
func (d *Driver) AddSubscriber(s HeartbeatSubscriber) {
	d.subscribers = append(d.subscribers, s)
}

// AddMeshObserver registers o to be notified of every graft/prune a
// rebalance pass applies.
func (d *Driver) AddMeshObserver(o MeshObserver) {
	d.observers = append(d.observers, o)
}

// Run blocks, firing Tick every HeartbeatInterval until ctx is
// cancelled or Stop is called. Grounded on internal/gossiper.go's
// ticker-driven for-select loop.
func (d *Driver) Run(ctx context.Context) {
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	defer close(d.done)

	ticker := d.clock.Ticker(d.params.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case <-ticker.C:
			if err := d.Tick(ctx); err != nil {
				d.logger.Warn("heartbeat tick failed", zap.Error(err))
			}
		}
	}
}

// Stop halts Run and waits for the in-flight tick to finish.
func (d *Driver) Stop() {
	if d.stop == nil {
		return
	}
	close(d.stop)
	<-d.done
}

// outbox accumulates per-peer outbound control traffic across every
// topic's rebalance pass, so all state mutation finishes before any
// send is attempted (spec.md §5).
type outbox struct {
	messages map[wire.PeerID]*wire.ControlMessage
}

func newOutbox() *outbox {
	return &outbox{messages: make(map[wire.PeerID]*wire.ControlMessage)}
}

func (o *outbox) entry(p wire.PeerID) *wire.ControlMessage {
	m, ok := o.messages[p]
	if !ok {
		m = &wire.ControlMessage{}
		o.messages[p] = m
	}
	return m
}

func (o *outbox) graft(p wire.PeerID, t wire.TopicID) {
	o.entry(p).Grafts = append(o.entry(p).Grafts, wire.Graft{Topic: t})
}

func (o *outbox) prune(p wire.PeerID, prune wire.Prune) {
	o.entry(p).Prunes = append(o.entry(p).Prunes, prune)
}

func (o *outbox) ihave(p wire.PeerID, ihave wire.IHave) {
	o.entry(p).IHaves = append(o.entry(p).IHaves, ihave)
}

// Tick runs one full heartbeat pass (§4.8): age state, rebalance every
// subscribed topic concurrently, expire stale fanout, compute gossip,
// advance the message cache, then flush every accumulated RPC and
// notify subscribers.
func (d *Driver) Tick(ctx context.Context) error {
	timer := prometheus.NewTimer(d.metrics.HeartbeatDuration)
	defer timer.ObserveDuration()

	now := d.clock.Now()
	d.tick++

	ob := newOutbox()
	d.ageState(now, ob)

	topics := d.store.MeshTopics()
	subscribed := d.store.SubscribedTopics()
	topics = unionTopics(topics, subscribed)

	g, _ := errgroup.WithContext(ctx)
	var mu sync.Mutex
	var lowPeerTopics int
	for _, t := range topics {
		t := t
		g.Go(func() error {
			result := Rebalance(d.store, d.backoff, d.scores, d.shuffler, d.params, t, now)

			mu.Lock()
			defer mu.Unlock()
			opportunistic := make(map[wire.PeerID]struct{}, len(result.OpportunisticGrafted))
			for _, p := range result.OpportunisticGrafted {
				opportunistic[p] = struct{}{}
			}
			for _, p := range result.Grafted {
				ob.graft(p, t)
				d.metrics.GraftsSent.WithLabelValues("rebalance").Inc()
				if _, ok := opportunistic[p]; ok {
					d.metrics.OpportunisticGrafted.Inc()
				}
				for _, o := range d.observers {
					o.OnGraft(t, p)
				}
			}
			for _, p := range result.Pruned {
				ob.prune(p, wire.Prune{
					Topic:          t,
					Peers:          pex.BuildList(d.store, d.scores, d.sprBook, t, 2*d.params.DHigh, d.params.PeerExchangeEnabled),
					BackoffSeconds: uint64(d.params.PruneBackoff.Seconds()),
				})
				d.metrics.PrunesSent.WithLabelValues("rebalance").Inc()
				d.metrics.DHighPruned.Inc()
				for _, o := range d.observers {
					o.OnPrune(t, p)
				}
			}
			d.metrics.MeshSize.WithLabelValues(string(t)).Set(float64(d.store.MeshSize(t)))
			if d.store.MeshSize(t) < d.params.DLow {
				lowPeerTopics++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	d.metrics.LowPeerTopics.Set(float64(lowPeerTopics))

	d.expireFanout(now)
	d.emitGossip(now, ob)

	d.cache.Shift()

	err := d.flush(ctx, ob)

	for _, s := range d.subscribers {
		s.OnHeartbeat(d.tick)
	}
	return err
}

func unionTopics(a, b []wire.TopicID) []wire.TopicID {
	seen := make(map[wire.TopicID]struct{}, len(a)+len(b))
	var out []wire.TopicID
	for _, t := range append(append([]wire.TopicID{}, a...), b...) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// ageState applies §4.8 step 1: advance every peer's history
// generation, refill budgets, sweep expired backoffs and prune
// negative-score peers out of every mesh they're in, emitting a PRUNE
// with PX to each evicted peer so its mesh view doesn't diverge from
// ours (§4.8 step 2b).
func (d *Driver) ageState(now time.Time, ob *outbox) {
	d.backoff.Sweep(now)

	budgets := meshstate.Budgets{
		IHave:    d.params.IHavePeerBudget,
		IWant:    d.params.IWantPeerBudget,
		Ping:     d.params.PingPeerBudget,
		Preamble: d.params.PreamblePeerBudget,
	}

	d.store.ForEachPeer(func(id wire.PeerID, p *meshstate.Peer) {
		p.AdvanceHistoryGeneration()
		p.RefillBudgets(budgets)
	})

	for _, t := range d.store.MeshTopics() {
		for _, p := range d.store.MeshPeers(t) {
			if d.store.IsDirect(p) {
				continue
			}
			if d.scores.Score(p) < 0 {
				d.store.RemoveFromMesh(t, p)
				d.backoff.Set(t, p, now.Add(d.params.PruneBackoff))
				ob.prune(p, wire.Prune{
					Topic:          t,
					Peers:          pex.BuildList(d.store, d.scores, d.sprBook, t, 2*d.params.DHigh, d.params.PeerExchangeEnabled),
					BackoffSeconds: uint64(d.params.PruneBackoff.Seconds()),
				})
				d.metrics.PrunesSent.WithLabelValues("negative_score").Inc()
				for _, o := range d.observers {
					o.OnPrune(t, p)
				}
			}
		}
	}
}

// expireFanout drops fanout topics that have had no publish within
// FanoutTTL (§4.8 step 3) and replenishes the remaining ones toward D
// from known gossipsub subscribers.
func (d *Driver) expireFanout(now time.Time) {
	for t, last := range d.store.FanoutTopics() {
		if now.Sub(last) > d.params.FanoutTTL {
			d.store.RemoveFanoutTopic(t)
			continue
		}
		if d.store.MeshSize(t) > 0 {
			continue
		}
		need := d.params.D - len(d.store.FanoutPeers(t))
		if need <= 0 {
			continue
		}
		candidates := eligibleCandidates(d.store, d.backoff, d.scores, t, now)
		for _, p := range d.store.FanoutPeers(t) {
			candidates = removePeer(candidates, p)
		}
		d.shuffler.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
		for i := 0; i < need && i < len(candidates); i++ {
			d.store.AddToFanout(t, candidates[i])
		}
	}
}

func removePeer(peers []wire.PeerID, p wire.PeerID) []wire.PeerID {
	out := peers[:0]
	for _, q := range peers {
		if q != p {
			out = append(out, q)
		}
	}
	return out
}

// emitGossip applies §4.8 step 6: for every mesh or fanout topic,
// advertise the mcache window to a sample of eligible non-mesh,
// non-fanout, non-direct peers via IHAVE.
func (d *Driver) emitGossip(now time.Time, ob *outbox) {
	topics := unionTopics(d.store.MeshTopics(), fanoutTopicList(d.store))
	for _, t := range topics {
		ids := d.cache.Window(t)
		if len(ids) == 0 {
			continue
		}
		if len(ids) > d.params.IHaveMaxLength {
			d.shuffler.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
			ids = ids[:d.params.IHaveMaxLength]
		}

		candidates := d.gossipCandidates(t)
		n := int(float64(len(candidates)) * d.params.GossipFactor)
		if n < d.params.DLazy {
			n = d.params.DLazy
		}
		if n > len(candidates) {
			n = len(candidates)
		}
		d.shuffler.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })

		for _, p := range candidates[:n] {
			peer := d.store.EnsurePeer(p)
			if !peer.SpendIHave() {
				continue
			}
			ob.ihave(p, wire.IHave{Topic: t, MessageIDs: ids})
			for _, id := range ids {
				peer.RecordSentIHave(d.salter.Salt(id))
			}
			d.metrics.IHavesSent.Inc()
		}
	}
}

// gossipCandidates returns gossipsub[t] peers eligible for lazy push
// gossip: not direct, not already in mesh or fanout, and above the
// gossip threshold.
func (d *Driver) gossipCandidates(t wire.TopicID) []wire.PeerID {
	var out []wire.PeerID
	for _, p := range d.store.GossipsubPeers(t) {
		if d.store.IsDirect(p) || d.store.InMesh(t, p) || d.store.InFanout(t, p) {
			continue
		}
		if d.scores.Score(p) < d.params.GossipThreshold {
			continue
		}
		out = append(out, p)
	}
	return out
}

func fanoutTopicList(store *meshstate.Store) []wire.TopicID {
	ft := store.FanoutTopics()
	out := make([]wire.TopicID, 0, len(ft))
	for t := range ft {
		out = append(out, t)
	}
	return out
}

// flush sends every accumulated outbound RPC, aggregating send
// failures via multierror rather than aborting partway through.
func (d *Driver) flush(ctx context.Context, ob *outbox) error {
	var result *multierror.Error
	for p, msg := range ob.messages {
		if msg.IsEmpty() {
			continue
		}
		rpc := &wire.RPC{Control: *msg}
		if err := d.transport.Send(ctx, p, rpc, true); err != nil {
			d.metrics.SendFailures.WithLabelValues("control").Inc()
			d.logger.Debug("heartbeat send failed", zap.String("peer", string(p)), zap.Error(err))
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
