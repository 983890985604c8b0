// Package config holds the tunable GossipSub mesh parameters consumed
// by internal/control and internal/heartbeat, plus their YAML loading
// for the meshctl CLI. Field-by-field doc style mirrors the teacher's
// config.go/options.go (one comment per exported field, defaults called
// out explicitly).
package config

import "time"

// Params bundles every tunable constant spec.md names (§3, §4.1-§4.8).
// It is intentionally flat rather than nested, matching the source's
// style of free-standing named constants.
type Params struct {
	// D is the target mesh degree. Defaults to 6.
	D int
	// DLow is the lower mesh-degree bound that triggers replenishment.
	// Defaults to 5.
	DLow int
	// DHigh is the upper mesh-degree bound that triggers pruning.
	// Defaults to 12.
	DHigh int
	// DScore is the number of top-scoring mesh peers exempt from
	// score-based pruning. Defaults to 4.
	DScore int
	// DOut is the minimum number of outbound mesh peers to maintain.
	// Defaults to 2.
	DOut int
	// DLazy is the minimum number of peers gossiped to per topic per
	// heartbeat. Defaults to 6.
	DLazy int

	// HistoryLength is the number of heartbeat generations retained in
	// sentIHaves/iDontWants. Defaults to 5.
	HistoryLength int
	// HistoryGossip is the number of mcache generations eligible for
	// gossip advertisement. Defaults to 3.
	HistoryGossip int

	// HeartbeatInterval is the period of the main heartbeat. Defaults
	// to 1s.
	HeartbeatInterval time.Duration
	// PreambleExpiryInterval is the period of the preamble-expiration
	// heartbeat. Defaults to 200ms.
	PreambleExpiryInterval time.Duration
	// FanoutTTL is how long a fanout topic survives without a publish.
	// Defaults to 60s.
	FanoutTTL time.Duration

	// GossipFactor is the fraction of non-mesh eligible peers gossiped
	// to, subject to the DLazy floor. Defaults to 0.25.
	GossipFactor float64
	// GossipThreshold is the minimum score to participate in gossip
	// (send/receive IHAVE and IWANT). Defaults to -10.
	GossipThreshold float64
	// PublishThreshold is the minimum score to be GRAFTed. Defaults to
	// -10.
	PublishThreshold float64
	// OpportunisticGraftThreshold is the score below which the median
	// mesh peer triggers opportunistic grafting. Defaults to 5.
	OpportunisticGraftThreshold float64
	// MaxOpportunisticGraftPeers bounds how many peers opportunistic
	// grafting adds per topic per heartbeat. Defaults to 2.
	MaxOpportunisticGraftPeers int

	// PruneBackoff is the default backoff installed on an evicting
	// PRUNE. Defaults to 1 minute.
	PruneBackoff time.Duration
	// BackoffSlackTime guards GRAFT backoff checks against clock skew
	// and message reordering. Defaults to 2s.
	BackoffSlackTime time.Duration
	// MaxBackoff is the ceiling any single backoff may be clamped to.
	// Defaults to 24h.
	MaxBackoff time.Duration

	// IHaveMaxLength caps the ids advertised per topic per IHAVE.
	// Defaults to 5000.
	IHaveMaxLength int
	// IDontWantMaxCount caps ids recorded per peer per heartbeat
	// generation from IDONTWANT. Defaults to 1000.
	IDontWantMaxCount int
	// MaxIWantInvalidRequests aborts an IWANT response once exceeded.
	// Defaults to 20.
	MaxIWantInvalidRequests int

	// MaxHeIsReceiving bounds the preamble subsystem's per-peer
	// heIsReceivings set. Defaults to 50.
	MaxHeIsReceiving int

	// IHavePeerBudget is how many ids a peer's IHAVE may cause us to
	// IWANT per heartbeat generation. Defaults to 5000.
	IHavePeerBudget int32
	// IWantPeerBudget is how many ids a peer's IWANT may request from
	// us per heartbeat generation. Defaults to 5000.
	IWantPeerBudget int32
	// PingPeerBudget bounds unrelated-to-gossip liveness pings per
	// heartbeat generation. Defaults to 20.
	PingPeerBudget int32
	// PreamblePeerBudget bounds incoming PREAMBLE announcements
	// processed per peer per heartbeat generation. Defaults to 256.
	PreamblePeerBudget int32

	// PeerExchangeEnabled toggles attaching a peer list to evicting
	// PRUNEs. Defaults to true.
	PeerExchangeEnabled bool

	// PreambleEnabled toggles the v1.4 preamble/bandwidth extension
	// (spec.md §9: "a static feature flag"). Defaults to false.
	PreambleEnabled bool
	// PreamblePullModeEnabled toggles retrying an expired ongoingReceive
	// via a fresh IWANT to an alternate sender. Defaults to true.
	PreamblePullModeEnabled bool

	// DirectPeers are fixed peerings that never enter any topic's mesh
	// or fanout: rebalance never selects them, and a GRAFT from one is
	// answered with a PRUNE and a behaviour penalty.
	DirectPeers []string
}

// Default returns the spec.md-recommended parameter set.
func Default() Params {
	return Params{
		D:                           6,
		DLow:                        5,
		DHigh:                       12,
		DScore:                      4,
		DOut:                        2,
		DLazy:                       6,
		HistoryLength:               5,
		HistoryGossip:               3,
		HeartbeatInterval:           time.Second,
		PreambleExpiryInterval:      200 * time.Millisecond,
		FanoutTTL:                   60 * time.Second,
		GossipFactor:                0.25,
		GossipThreshold:             -10,
		PublishThreshold:            -10,
		OpportunisticGraftThreshold: 5,
		MaxOpportunisticGraftPeers:  2,
		PruneBackoff:                time.Minute,
		BackoffSlackTime:            2 * time.Second,
		MaxBackoff:                  24 * time.Hour,
		IHaveMaxLength:              5000,
		IDontWantMaxCount:           1000,
		MaxIWantInvalidRequests:     20,
		MaxHeIsReceiving:            50,
		IHavePeerBudget:             5000,
		IWantPeerBudget:             5000,
		PingPeerBudget:              20,
		PreamblePeerBudget:          256,
		PeerExchangeEnabled:         true,
		PreambleEnabled:             false,
		PreamblePullModeEnabled:     true,
	}
}
