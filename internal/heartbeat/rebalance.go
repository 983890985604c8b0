package heartbeat

import (
	"sort"
	"time"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/config"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/meshstate"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/net"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

// RebalanceResult reports what a rebalance pass did to one topic's
// mesh, for the caller to translate into GRAFT/PRUNE emissions.
type RebalanceResult struct {
	Grafted              []wire.PeerID
	Pruned               []wire.PeerID
	OpportunisticGrafted []wire.PeerID
}

// Rebalance applies §4.6 to topic t. Preconditions (already done by the
// caller): negative-score mesh peers pruned this heartbeat, backoff
// aged.
func Rebalance(store *meshstate.Store, backoff *meshstate.BackoffTable, scores net.ScoreSource, shuffler net.Shuffler, params config.Params, t wire.TopicID, now time.Time) RebalanceResult {
	var result RebalanceResult
	justGrafted := make(map[wire.PeerID]struct{})

	// Step 1: replenish to D.
	if store.MeshSize(t) < params.DLow {
		candidates := eligibleCandidates(store, backoff, scores, t, now)
		shuffleStable(shuffler, candidates, scores)
		need := params.D - store.MeshSize(t)
		for i := 0; i < need && i < len(candidates); i++ {
			p := candidates[i]
			store.RemoveFromFanout(t, p)
			store.AddToMesh(t, p)
			justGrafted[p] = struct{}{}
			result.Grafted = append(result.Grafted, p)
		}
	}

	// Step 2: outbound quota.
	outboundCount := countOutbound(store, scores, t)
	if outboundCount < params.DOut {
		candidates := eligibleCandidates(store, backoff, scores, t, now)
		candidates = filterOutbound(candidates, scores)
		shuffleStable(shuffler, candidates, scores)
		need := params.DOut - outboundCount
		for i := 0; i < need && i < len(candidates); i++ {
			p := candidates[i]
			if _, already := justGrafted[p]; already {
				continue
			}
			store.RemoveFromFanout(t, p)
			store.AddToMesh(t, p)
			justGrafted[p] = struct{}{}
			result.Grafted = append(result.Grafted, p)
		}
	}

	// Step 3: prune above dHigh. Applied to the mesh immediately so step
	// 4's median isn't biased downward by peers already on their way out.
	if store.MeshSize(t) > params.DHigh {
		pruned := pruneAboveDHigh(store, scores, shuffler, params, t, justGrafted)
		result.Pruned = append(result.Pruned, pruned...)
		for _, p := range pruned {
			store.RemoveFromMesh(t, p)
			backoff.Set(t, p, now.Add(params.PruneBackoff))
		}
	}

	// Step 4: opportunistic grafting.
	if store.MeshSize(t) > 1 {
		grafted := opportunisticGraft(store, backoff, scores, params, t, now, justGrafted)
		result.Grafted = append(result.Grafted, grafted...)
		result.OpportunisticGrafted = append(result.OpportunisticGrafted, grafted...)
	}

	return result
}

func eligibleCandidates(store *meshstate.Store, backoff *meshstate.BackoffTable, scores net.ScoreSource, t wire.TopicID, now time.Time) []wire.PeerID {
	var out []wire.PeerID
	for _, p := range store.GossipsubPeers(t) {
		if !scores.Connected(p) {
			continue
		}
		if scores.Score(p) < 0 {
			continue
		}
		if store.InMesh(t, p) {
			continue
		}
		if store.IsDirect(p) {
			continue
		}
		if backoff.IsBackingOff(t, p, now) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func filterOutbound(peers []wire.PeerID, scores net.ScoreSource) []wire.PeerID {
	var out []wire.PeerID
	for _, p := range peers {
		if scores.Outbound(p) {
			out = append(out, p)
		}
	}
	return out
}

func countOutbound(store *meshstate.Store, scores net.ScoreSource, t wire.TopicID) int {
	count := 0
	for _, p := range store.MeshPeers(t) {
		if scores.Outbound(p) {
			count++
		}
	}
	return count
}

// shuffleStable shuffles then stable-sorts by score descending, so
// equal-score peers stay randomized (§4.6 "Tie-breaking").
func shuffleStable(shuffler net.Shuffler, peers []wire.PeerID, scores net.ScoreSource) {
	shuffler.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })
	sort.SliceStable(peers, func(i, j int) bool {
		return scores.Score(peers[i]) > scores.Score(peers[j])
	})
}

// pruneAboveDHigh picks which mesh peers to evict once a topic exceeds
// dHigh: the dScore highest-scoring peers are always exempt, the
// outbound floor is topped up from the remainder before anyone else is
// considered, and what's left is shuffled and trimmed down to exactly
// D survivors. Grounded on go-libp2p-pubsub's prune-above-Dhi pass
// (gossipsub.go), the one part of the rebalance algorithm with a
// direct real-world reference implementation in the retrieved corpus.
func pruneAboveDHigh(store *meshstate.Store, scores net.ScoreSource, shuffler net.Shuffler, params config.Params, t wire.TopicID, justGrafted map[wire.PeerID]struct{}) []wire.PeerID {
	var candidates []wire.PeerID
	for _, p := range store.MeshPeers(t) {
		if _, skip := justGrafted[p]; skip {
			continue
		}
		candidates = append(candidates, p)
	}

	shuffler.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	sort.SliceStable(candidates, func(i, j int) bool {
		return scores.Score(candidates[i]) < scores.Score(candidates[j])
	})

	scoreThreshold := len(candidates) - params.DScore
	if scoreThreshold < 0 {
		scoreThreshold = 0
	}
	head := append([]wire.PeerID{}, candidates[scoreThreshold:]...)
	tail := append([]wire.PeerID{}, candidates[:scoreThreshold]...)
	shuffler.Shuffle(len(tail), func(i, j int) { tail[i], tail[j] = tail[j], tail[i] })

	outbound := 0
	for _, p := range head {
		if scores.Outbound(p) {
			outbound++
		}
	}

	var outboundTail, nonOutboundTail []wire.PeerID
	for _, p := range tail {
		if scores.Outbound(p) {
			outboundTail = append(outboundTail, p)
		} else {
			nonOutboundTail = append(nonOutboundTail, p)
		}
	}

	for outbound < params.DOut && len(outboundTail) > 0 {
		head = append(head, outboundTail[0])
		outboundTail = outboundTail[1:]
		outbound++
	}

	tail = append(nonOutboundTail, outboundTail...)
	shuffler.Shuffle(len(tail), func(i, j int) { tail[i], tail[j] = tail[j], tail[i] })

	plist := append(head, tail...)
	if len(plist) > params.D {
		plist = plist[:params.D]
	}

	keep := make(map[wire.PeerID]struct{}, len(plist))
	for _, p := range plist {
		keep[p] = struct{}{}
	}

	var pruned []wire.PeerID
	for _, p := range candidates {
		if _, ok := keep[p]; !ok {
			pruned = append(pruned, p)
		}
	}
	return pruned
}

func opportunisticGraft(store *meshstate.Store, backoff *meshstate.BackoffTable, scores net.ScoreSource, params config.Params, t wire.TopicID, now time.Time, justGrafted map[wire.PeerID]struct{}) []wire.PeerID {
	mesh := store.MeshPeers(t)
	sort.SliceStable(mesh, func(i, j int) bool { return scores.Score(mesh[i]) > scores.Score(mesh[j]) })
	median := scores.Score(mesh[len(mesh)/2])
	if median >= params.OpportunisticGraftThreshold {
		return nil
	}

	var grafted []wire.PeerID
	for _, p := range store.GossipsubPeers(t) {
		if len(grafted) >= params.MaxOpportunisticGraftPeers {
			break
		}
		if _, already := justGrafted[p]; already {
			continue
		}
		if store.InMesh(t, p) || store.IsDirect(p) {
			continue
		}
		if backoff.IsBackingOff(t, p, now) {
			continue
		}
		if scores.Score(p) < median {
			continue
		}
		store.AddToMesh(t, p)
		grafted = append(grafted, p)
	}
	return grafted
}
