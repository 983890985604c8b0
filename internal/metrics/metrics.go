// Package metrics exports the Prometheus counters and gauges operators
// use to observe mesh manager behaviour without a user-facing error
// surface (spec.md §7: "Operators observe failures through metrics...
// no user-facing error surface beyond returned PRUNE lists").
//
// Grounded on celestiaorg-celestia-node's go.mod
// (github.com/prometheus/client_golang) and
// Grapthway-Grapthway-Protocol/pkg/monitoring/monitoring.go's pattern
// of a single struct of pre-registered collectors passed down into
// the components that update them.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector the mesh manager updates.
type Metrics struct {
	DHighPruned          prometheus.Counter
	LowPeerTopics        prometheus.Gauge
	UnknownIWant         prometheus.Counter
	IWantInvalidAborted  prometheus.Counter
	BehaviourPenalty     *prometheus.CounterVec
	GraftsSent           *prometheus.CounterVec
	PrunesSent           *prometheus.CounterVec
	IHavesSent           prometheus.Counter
	IWantsSent           prometheus.Counter
	PreambleSavedIWant   prometheus.Counter
	PreambleLengthConfl  prometheus.Counter
	OpportunisticGrafted prometheus.Counter
	SendFailures         *prometheus.CounterVec
	MeshSize             *prometheus.GaugeVec
	HeartbeatDuration    prometheus.Histogram
}

// New registers and returns a fresh Metrics struct against reg. A nil
// reg registers against a fresh private prometheus.Registry, so nothing
// reaches the global default registry unless the caller passes it.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		DHighPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mesh", Name: "dhigh_pruned_total",
			Help: "Peers pruned from a mesh for exceeding dHigh.",
		}),
		LowPeerTopics: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mesh", Name: "low_peer_topics",
			Help: "Topics whose mesh is currently below dLow.",
		}),
		UnknownIWant: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mesh", Name: "unknown_iwant_total",
			Help: "IWANT ids that mcache did not hold.",
		}),
		IWantInvalidAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mesh", Name: "iwant_invalid_aborted_total",
			Help: "IWANT responses aborted for exceeding the invalid-request cap.",
		}),
		BehaviourPenalty: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mesh", Name: "behaviour_penalty_total",
			Help: "behaviourPenalty increments, by reason.",
		}, []string{"reason"}),
		GraftsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mesh", Name: "grafts_sent_total",
			Help: "GRAFT messages emitted, by reason.",
		}, []string{"reason"}),
		PrunesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mesh", Name: "prunes_sent_total",
			Help: "PRUNE messages emitted, by reason.",
		}, []string{"reason"}),
		IHavesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mesh", Name: "ihaves_sent_total",
			Help: "IHAVE messages emitted.",
		}),
		IWantsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mesh", Name: "iwants_sent_total",
			Help: "IWANT messages emitted.",
		}),
		PreambleSavedIWant: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mesh", Name: "preamble_saved_iwant_total",
			Help: "IHAVE ids suppressed because the preamble subsystem already tracked them.",
		}),
		PreambleLengthConfl: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mesh", Name: "preamble_length_conflict_total",
			Help: "PREAMBLE or IMRECEIVING whose length conflicts with an already tracked reception, silently dropped.",
		}),
		OpportunisticGrafted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mesh", Name: "opportunistic_grafted_total",
			Help: "Peers grafted via opportunistic grafting.",
		}),
		SendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mesh", Name: "send_failures_total",
			Help: "Outbound control-message send failures, by message type.",
		}, []string{"type"}),
		MeshSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mesh", Name: "mesh_size",
			Help: "Current mesh size per topic.",
		}, []string{"topic"}),
		HeartbeatDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mesh", Name: "heartbeat_duration_seconds",
			Help: "Wall-clock time spent in one heartbeat tick.",
		}),
	}

	reg.MustRegister(
		m.DHighPruned, m.LowPeerTopics, m.UnknownIWant, m.IWantInvalidAborted,
		m.BehaviourPenalty, m.GraftsSent, m.PrunesSent, m.IHavesSent, m.IWantsSent,
		m.PreambleSavedIWant, m.PreambleLengthConfl, m.OpportunisticGrafted,
		m.SendFailures, m.MeshSize, m.HeartbeatDuration,
	)
	return m
}

// Noop returns a Metrics struct backed by an unregistered private
// registry, for callers (tests, short-lived CLI runs) that don't want
// to pollute the default registry.
func Noop() *Metrics {
	return New(prometheus.NewRegistry())
}
