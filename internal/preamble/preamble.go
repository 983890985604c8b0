// Package preamble implements the v1.4 preamble/bandwidth extension
// (§4.7): overlapping message reception with bandwidth-aware
// IMRECEIVING announcements so mesh peers can suppress redundant
// IWANTs for a message already known to be in flight.
//
// Grounded on internal/failuredetector.go's moment-keyed expiry
// windows (the closest teacher analogue to ongoingReceives /
// ongoingIWantReceives) and internal/arrivalwindow.go's smoothed
// interval estimator for the bandwidth half (bandwidth.go).
package preamble

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/config"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/meshstate"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/metrics"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/net"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

// ongoingReceive is one tracked in-flight message, keyed by id in
// either of the tracker's two maps.
type ongoingReceive struct {
	MessageID            wire.MessageID
	Topic                wire.TopicID
	MessageLength        int
	Sender               wire.PeerID
	StartsAt             time.Time
	ExpiresAt            time.Time
	PossiblePeersToQuery []wire.PeerID
}

// TerminalExpiry is called when an ongoingIWantReceive expires with no
// further recovery possible within the tracker (§4.7: "terminal — no
// further recovery within the core; surface to caller").
type TerminalExpiry func(id wire.MessageID, topic wire.TopicID)

// Tracker implements control.PreambleTracker and owns both
// moment-keyed expiry stores. A message is in exactly one of the two
// maps at a time: ongoingReceives while a mesh peer is sending it to
// us directly, ongoingIWantReceives while we are waiting on a peer we
// asked via IWANT.
type Tracker struct {
	store     *meshstate.Store
	scores    net.ScoreSource
	seen      net.SeenCache
	salter    net.Salter
	transport net.Transport
	shuffler  net.Shuffler
	params    config.Params
	clock     clock.Clock
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu                   sync.Mutex
	ongoingReceives      map[wire.MessageID]*ongoingReceive
	ongoingIWantReceives map[wire.MessageID]*ongoingReceive

	onTerminalExpiry TerminalExpiry

	stop chan struct{}
	done chan struct{}
}

// New returns a Tracker. Nil collaborators fall back the same way
// internal/control.New and internal/heartbeat.New do.
func New(store *meshstate.Store, scores net.ScoreSource, seen net.SeenCache, salter net.Salter, transport net.Transport, shuffler net.Shuffler, params config.Params, clk clock.Clock, m *metrics.Metrics, logger *zap.Logger) *Tracker {
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
	return &Tracker{
		store:                store,
		scores:               scores,
		seen:                 seen,
		salter:               salter,
		transport:            transport,
		shuffler:             shuffler,
		params:               params,
		clock:                clk,
		metrics:              m,
		logger:               logger,
		ongoingReceives:      make(map[wire.MessageID]*ongoingReceive),
		ongoingIWantReceives: make(map[wire.MessageID]*ongoingReceive),
	}
}

// SetOnTerminalExpiry installs the callback fired for every
// ongoingIWantReceive that expires with no further retry possible.
func (t *Tracker) SetOnTerminalExpiry(fn TerminalExpiry) {
	t.onTerminalExpiry = fn
}

// IsTracked satisfies control.PreambleTracker: true while id is either
// arriving from a mesh sender or pending via a prior IWANT.
func (t *Tracker) IsTracked(id wire.MessageID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.ongoingReceives[id]; ok {
		return true
	}
	_, ok := t.ongoingIWantReceives[id]
	return ok
}

// NoteAlternateSender satisfies control.PreambleTracker: records that
// from also offered id, so an expired receive can retry against them.
func (t *Tracker) NoteAlternateSender(id wire.MessageID, from wire.PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.ongoingReceives[id]; ok {
		appendCandidate(entry, from)
		return
	}
	if entry, ok := t.ongoingIWantReceives[id]; ok {
		appendCandidate(entry, from)
	}
}

func appendCandidate(entry *ongoingReceive, p wire.PeerID) {
	if p == entry.Sender {
		return
	}
	for _, q := range entry.PossiblePeersToQuery {
		if q == p {
			return
		}
	}
	entry.PossiblePeersToQuery = append(entry.PossiblePeersToQuery, p)
}

// HandlePreamble applies §4.7's PREAMBLE rule to every announcement in
// the batch, stopping once from's preamble budget is exhausted.
func (t *Tracker) HandlePreamble(from wire.PeerID, preambles []wire.Preamble) {
	peer := t.store.EnsurePeer(from)
	for _, msg := range preambles {
		if !peer.SpendPreamble() {
			return
		}
		t.handleOne(from, peer, msg)
	}
}

func (t *Tracker) handleOne(from wire.PeerID, peer *meshstate.Peer, msg wire.Preamble) {
	salted := t.salter.Salt(msg.MessageID)
	if t.seen.HasSeen(salted) {
		return
	}
	if peer.IsSending(msg.MessageID) {
		return
	}
	t.mu.Lock()
	existing, tracked := t.ongoingReceives[msg.MessageID]
	if !tracked {
		existing, tracked = t.ongoingIWantReceives[msg.MessageID]
	}
	t.mu.Unlock()
	if tracked {
		if existing.MessageLength != msg.MessageLength {
			t.metrics.PreambleLengthConfl.Inc()
		}
		return
	}

	now := t.clock.Now()
	peer.RecordHeIsSending(msg.MessageID, now)
	expires := now.Add(receiveTime(float64(msg.MessageLength), peer.DownloadBps()))

	entry := &ongoingReceive{
		MessageID:     msg.MessageID,
		Topic:         msg.Topic,
		MessageLength: msg.MessageLength,
		Sender:        from,
		StartsAt:      now,
		ExpiresAt:     expires,
	}

	inMesh := t.store.InMesh(msg.Topic, from)
	t.mu.Lock()
	if inMesh {
		t.ongoingReceives[msg.MessageID] = entry
	} else {
		t.ongoingIWantReceives[msg.MessageID] = entry
	}
	t.mu.Unlock()

	if !inMesh {
		return
	}

	meshPeers := t.store.MeshPeers(msg.Topic)
	if peer.DownloadBps() < medianDownloadRate(t.store, meshPeers) {
		return
	}

	var targets []wire.PeerID
	for _, p := range meshPeers {
		if p == from {
			continue
		}
		if t.scores.Codec(p).SupportsPreamble() {
			targets = append(targets, p)
		}
	}
	if len(targets) == 0 {
		return
	}

	rpc := &wire.RPC{Control: wire.ControlMessage{
		IMReceivings: []wire.IMReceiving{{MessageID: msg.MessageID, MessageLength: msg.MessageLength}},
	}}
	if err := t.transport.Broadcast(context.Background(), targets, rpc, false); err != nil {
		t.logger.Debug("preamble: broadcast imreceiving failed", zap.Error(err))
	}
}

// HandleMessageReceived retires a tracked in-flight reception once the
// embedding pubsub host confirms id's payload has actually arrived, the
// only point in this module that learns how long a reception truly
// took. It feeds the observed throughput back into the sender's
// smoothed download-rate estimate (§4.7) and clears the entry so a
// later Tick can't also time it out as expired.
func (t *Tracker) HandleMessageReceived(id wire.MessageID, now time.Time) {
	t.mu.Lock()
	entry, ok := t.ongoingReceives[id]
	if ok {
		delete(t.ongoingReceives, id)
	} else {
		entry, ok = t.ongoingIWantReceives[id]
		if ok {
			delete(t.ongoingIWantReceives, id)
		}
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	sender, ok := t.store.Peer(entry.Sender)
	if !ok {
		return
	}
	sender.ClearHeIsSending(id)

	elapsed := now.Sub(entry.StartsAt).Seconds()
	if elapsed <= 0 || entry.MessageLength <= 0 {
		return
	}
	sender.UpdateDownloadBps(float64(entry.MessageLength)/elapsed, downloadBpsAlpha)
}

// HandleIMReceiving applies §4.7's IMRECEIVING rule: record the
// claimed length unless it conflicts with a length we're already
// tracking for that id.
func (t *Tracker) HandleIMReceiving(from wire.PeerID, ims []wire.IMReceiving) {
	for _, im := range ims {
		t.mu.Lock()
		entry, tracked := t.ongoingReceives[im.MessageID]
		if !tracked {
			entry, tracked = t.ongoingIWantReceives[im.MessageID]
		}
		t.mu.Unlock()

		if tracked && entry.MessageLength != im.MessageLength {
			t.metrics.PreambleLengthConfl.Inc()
			continue
		}

		peer := t.store.EnsurePeer(from)
		peer.RecordHeIsReceiving(im.MessageID, im.MessageLength)
	}
}

// Run blocks, calling Tick every PreambleExpiryInterval until ctx is
// cancelled or Stop is called — the second periodic task spec.md §5
// describes alongside the main heartbeat.
func (t *Tracker) Run(ctx context.Context) {
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	defer close(t.done)

	ticker := t.clock.Ticker(t.params.PreambleExpiryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.Tick()
		}
	}
}

// Stop halts Run and waits for the in-flight tick to finish.
func (t *Tracker) Stop() {
	if t.stop == nil {
		return
	}
	close(t.stop)
	<-t.done
}

// Tick drains every expired entry from both stores: expired
// ongoingReceives retry against an alternate sender (pull mode
// permitting), expired ongoingIWantReceives are terminal and surfaced
// via the registered callback.
func (t *Tracker) Tick() {
	now := t.clock.Now()

	var toRetry, terminallyExpired []*ongoingReceive

	t.mu.Lock()
	for id, entry := range t.ongoingReceives {
		if now.Before(entry.ExpiresAt) {
			continue
		}
		delete(t.ongoingReceives, id)
		toRetry = append(toRetry, entry)
	}
	for id, entry := range t.ongoingIWantReceives {
		if now.Before(entry.ExpiresAt) {
			continue
		}
		delete(t.ongoingIWantReceives, id)
		terminallyExpired = append(terminallyExpired, entry)
	}
	t.mu.Unlock()

	for _, entry := range toRetry {
		t.expireReceive(entry, now)
	}
	for _, entry := range terminallyExpired {
		if t.onTerminalExpiry != nil {
			t.onTerminalExpiry(entry.MessageID, entry.Topic)
		}
	}
}

func (t *Tracker) expireReceive(entry *ongoingReceive, now time.Time) {
	if sender, ok := t.store.Peer(entry.Sender); ok {
		sender.PenalizeBehaviour(0.1)
	}
	t.metrics.BehaviourPenalty.WithLabelValues("preamble_expired").Inc()

	if !t.params.PreamblePullModeEnabled {
		return
	}

	var candidates []wire.PeerID
	for _, p := range entry.PossiblePeersToQuery {
		if t.scores.Codec(p).SupportsPreamble() {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return
	}
	t.shuffler.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	next := candidates[0]

	bps := 0.0
	if p, ok := t.store.Peer(next); ok {
		bps = p.DownloadBps()
	}

	retryEntry := &ongoingReceive{
		MessageID:            entry.MessageID,
		Topic:                entry.Topic,
		MessageLength:        entry.MessageLength,
		Sender:               next,
		StartsAt:             now,
		ExpiresAt:            now.Add(receiveTime(float64(entry.MessageLength), bps)),
		PossiblePeersToQuery: candidates[1:],
	}

	t.mu.Lock()
	t.ongoingIWantReceives[entry.MessageID] = retryEntry
	t.mu.Unlock()

	rpc := &wire.RPC{Control: wire.ControlMessage{
		IWants: []wire.IWant{{MessageIDs: []wire.MessageID{entry.MessageID}}},
	}}
	if err := t.transport.Send(context.Background(), next, rpc, false); err != nil {
		t.logger.Debug("preamble: retry iwant send failed", zap.Error(err))
	}
}
