package preamble

import (
	"sort"
	"time"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/meshstate"
	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
)

// minBps is the conservative floor receiveTime falls back to when a
// peer hasn't reported (or has reported a non-positive) bandwidth
// sample, so a cold peer doesn't get an effectively-infinite grace
// period.
const minBps = 1024.0

// downloadBpsAlpha is the exponential-moving-average weight applied to
// each new observed-download-rate sample fed into UpdateDownloadBps.
const downloadBpsAlpha = 0.2

// receiveTime estimates how long receiving a message of the given size
// should take at bps, with a safe floor when bps is zero or negative
// (§4.7: "conservative transmission-time estimate... safe floor when
// bps ≤ 0"). Grounded on internal/arrivalwindow.go's interval-mean
// estimator, generalized from an arrival-interval mean to a
// throughput-based duration estimate.
func receiveTime(bytes, bps float64) time.Duration {
	if bps <= 0 {
		bps = minBps
	}
	seconds := bytes / bps
	return time.Duration(seconds * float64(time.Second))
}

// medianDownloadRate returns the median smoothed download rate across
// meshPeers, resolving §4.7.a: sort ascending, return the lower-middle
// element on even-length input, matching the convention already used
// by the mesh-rebalance median in internal/heartbeat/rebalance.go's
// opportunisticGraft.
func medianDownloadRate(store *meshstate.Store, meshPeers []wire.PeerID) float64 {
	if len(meshPeers) == 0 {
		return 0
	}
	rates := make([]float64, 0, len(meshPeers))
	for _, id := range meshPeers {
		if p, ok := store.Peer(id); ok {
			rates = append(rates, p.DownloadBps())
		} else {
			rates = append(rates, 0)
		}
	}
	sort.Float64s(rates)
	return rates[(len(rates)-1)/2]
}
