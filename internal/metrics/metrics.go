// Package metrics exposes observability counters for the ping-loop storage
// engine. Nothing here is correctness-bearing: the engine must behave
// identically whether or not these are ever scraped.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the engine's Prometheus collectors.
type Metrics struct {
	Retransmits      prometheus.Counter
	DeadLoops        prometheus.Counter
	AnomalousReplies prometheus.Counter
	Outstanding      prometheus.Gauge
}

// New constructs and registers a Metrics bundle against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pingdrive",
			Subsystem: "pingloop",
			Name:      "retransmits_total",
			Help:      "Echo requests re-sent after the first matching reply for a sequence.",
		}),
		DeadLoops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pingdrive",
			Subsystem: "pingloop",
			Name:      "dead_loops_total",
			Help:      "Sequences whose redundant destinations all timed out before any reply arrived.",
		}),
		AnomalousReplies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pingdrive",
			Subsystem: "pingloop",
			Name:      "anomalous_replies_total",
			Help:      "Replies whose destination was missing or duplicated in the matched entry.",
		}),
		Outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pingdrive",
			Subsystem: "pingloop",
			Name:      "outstanding_entries",
			Help:      "Number of (file_id, loop_index, sequence) entries currently in flight.",
		}),
	}

	reg.MustRegister(m.Retransmits, m.DeadLoops, m.AnomalousReplies, m.Outstanding)

	return m
}

// NewUnregistered builds a Metrics bundle registered only against a fresh,
// private registry, for use in tests that don't care about a Prometheus
// registry.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
