// Package cluster manages a local, in-process cluster of mesh.Router
// instances wired together over a shared internal/net.MockNetwork, for
// the meshctl CLI's convergence measurements. Grounded on the
// teacher's eval/pkg/cluster/cluster.go (Cluster/Node/AddNode/AddNodes,
// uuid-derived ids, multierror-aggregated AddNodes errors, poll-based
// WaitFor* helpers), retargeted from scuttlebutt's membership gossip to
// mesh GRAFT/PRUNE convergence and IHAVE fan-out.
package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	multierror "github.com/hashicorp/go-multierror"

	mesh "github.com/MorganaFuture/nim-libp2p-mesh"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/config"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/net"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/telemetry"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

// Node is one cluster member: a Router plus the mock transport it
// sends/receives over and the background goroutines pumping it.
type Node struct {
	ID     wire.PeerID
	Router *mesh.Router

	transport *net.MockTransport
	seen      *idTracker
}

// SawMessage reports whether this node has received an IHAVE
// advertising id, i.e. been gossiped its existence by a mesh or
// fanout peer.
func (n *Node) SawMessage(id wire.MessageID) bool {
	return n.seen.saw(id)
}

// idTracker records message ids this node has heard about via IHAVE,
// fed by a Router RPCInspector hook (the only observation point
// available to a caller outside the Router's own event loop).
type idTracker struct {
	mu  sync.Mutex
	ids map[wire.MessageID]struct{}
}

func newIDTracker() *idTracker {
	return &idTracker{ids: make(map[wire.MessageID]struct{})}
}

func (t *idTracker) inspect(_ wire.PeerID, rpc *wire.ControlMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ihave := range rpc.IHaves {
		for _, id := range ihave.MessageIDs {
			t.ids[id] = struct{}{}
		}
	}
	return nil
}

func (t *idTracker) saw(id wire.MessageID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.ids[id]
	return ok
}

// Cluster manages a local in-process mesh of Routers for testing and
// evaluation.
type Cluster struct {
	topic   wire.TopicID
	params  config.Params
	network *net.MockNetwork
	scores  *sharedScores

	mu    sync.Mutex
	nodes map[wire.PeerID]*Node

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCluster returns an empty cluster whose nodes all subscribe to
// topic and run with params (config.Default() if the zero value).
func NewCluster(topic wire.TopicID, params config.Params) *Cluster {
	if params.D == 0 {
		params = config.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cluster{
		topic:   topic,
		params:  params,
		network: net.NewMockNetwork(),
		scores:  newSharedScores(),
		nodes:   make(map[wire.PeerID]*Node),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddNode starts a new Router, mutually adds it to every existing
// node's gossipsub peer set for the cluster's topic, and starts
// pumping its mock transport.
func (c *Cluster) AddNode() (*Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := wire.PeerID(uuid.New().String()[:7])
	logger, err := telemetry.New("warn", true)
	if err != nil {
		return nil, err
	}
	logger = telemetry.WithPeer(logger, id.String())

	transport := c.network.NewTransport(id)
	seen := newIDTracker()

	router, err := mesh.New(mesh.Config{
		ID:        id,
		Transport: transport,
		Scores:    c.scores,
		Params:    c.params,
		Logger:    logger,
	}, mesh.WithRPCInspector(seen.inspect))
	if err != nil {
		return nil, err
	}
	router.Subscribe(c.topic)
	c.scores.addNode(id)

	for peerID, other := range c.nodes {
		router.AddGossipsubPeer(c.topic, peerID)
		other.Router.AddGossipsubPeer(c.topic, id)
	}

	node := &Node{ID: id, Router: router, transport: transport, seen: seen}
	c.nodes[id] = node

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		router.Run(c.ctx)
	}()
	go func() {
		defer c.wg.Done()
		for {
			select {
			case rpc, ok := <-transport.Inbox():
				if !ok {
					return
				}
				if _, err := router.Deliver(c.ctx, &rpc); err != nil {
					return
				}
			case <-c.ctx.Done():
				return
			}
		}
	}()

	return node, nil
}

// AddNodes adds n nodes, aggregating every failure via multierror
// instead of aborting on the first one.
func (c *Cluster) AddNodes(n int) error {
	var errs error
	for i := 0; i < n; i++ {
		if _, err := c.AddNode(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs
}

// Nodes returns a snapshot of every node currently in the cluster.
func (c *Cluster) Nodes() []*Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, n)
	}
	return out
}

// WaitForMeshConverged polls until converged reports true (every node's
// mesh for the cluster's topic holds at least min(dLow, n-1) peers), or
// ctx is cancelled.
func (c *Cluster) WaitForMeshConverged(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if c.converged() {
				return nil
			}
		}
	}
}

// converged reports whether every node's mesh has reached dLow, the
// threshold below which rebalance step 1 (§4.6) keeps replenishing —
// once every node clears it, the mesh has settled rather than still
// growing. A cluster smaller than dLow simply converges to a full
// mesh instead.
func (c *Cluster) converged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	target := c.params.DLow
	if want := len(c.nodes) - 1; want < target {
		target = want
	}
	if target <= 0 {
		return true
	}
	for _, n := range c.nodes {
		if n.Router.MeshSize(c.topic) < target {
			return false
		}
	}
	return true
}

// WaitForGossipFanout polls until every one of publisher's gossipsub
// peers that did NOT make it into publisher's mesh has seen an IHAVE
// advertising id, or ctx is cancelled. Mesh peers are excluded: a real
// pubsub base pushes the message to them directly over the data
// plane, which is outside this module's scope (§4.2's "the pubsub base
// is responsible for interpreting" the payload) — only the lazy-push
// IHAVE path to non-mesh peers is this module's to measure.
func (c *Cluster) WaitForGossipFanout(ctx context.Context, publisher wire.PeerID, id wire.MessageID) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if c.fannedOut(publisher, id) {
				return nil
			}
		}
	}
}

func (c *Cluster) fannedOut(publisher wire.PeerID, id wire.MessageID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	pub, ok := c.nodes[publisher]
	if !ok {
		return false
	}
	for peerID, n := range c.nodes {
		if peerID == publisher {
			continue
		}
		if pub.Router.InMesh(c.topic, peerID) {
			continue
		}
		if !n.SawMessage(id) {
			return false
		}
	}
	return true
}

// Shutdown stops every node's Router and background pump and waits for
// them to exit.
func (c *Cluster) Shutdown() {
	c.cancel()
	c.wg.Wait()
}
