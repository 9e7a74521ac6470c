// Package metrics defines the Prometheus instrumentation for the scanner.
// Collectors are registered via promauto at init and exposed at /metrics by
// the ops server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BookUpdates counts applied order-book messages per exchange and kind
// (snapshot or delta).
var BookUpdates = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "arbscan",
		Subsystem: "book",
		Name:      "updates_total",
		Help:      "Applied order-book updates",
	},
	[]string{"exchange", "kind"},
)

// SequenceGaps counts detected sequence gaps per exchange.
var SequenceGaps = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "arbscan",
		Subsystem: "book",
		Name:      "sequence_gaps_total",
		Help:      "Sequence gaps that triggered a resync",
	},
	[]string{"exchange"},
)

// BookCrossed counts crossed top-of-book observations per exchange.
var BookCrossed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "arbscan",
		Subsystem: "book",
		Name:      "crossed_total",
		Help:      "Crossed top-of-book observations",
	},
	[]string{"exchange"},
)

// StaleSymbols counts stale transitions per exchange.
var StaleSymbols = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "arbscan",
		Subsystem: "book",
		Name:      "stale_transitions_total",
		Help:      "Symbol transitions to stale",
	},
	[]string{"exchange"},
)

// QuarantinedSymbols counts quarantine transitions per exchange. Any
// non-zero value indicates an internal invariant violation.
var QuarantinedSymbols = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "arbscan",
		Subsystem: "book",
		Name:      "quarantined_total",
		Help:      "Symbols quarantined after an invariant violation",
	},
	[]string{"exchange"},
)

// WSReconnects counts feed reconnect attempts per exchange.
var WSReconnects = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "arbscan",
		Subsystem: "feed",
		Name:      "reconnects_total",
		Help:      "WebSocket reconnect attempts",
	},
	[]string{"exchange"},
)

// ScanTicks counts scanner ticks by outcome ("run" or "skipped").
var ScanTicks = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "arbscan",
		Subsystem: "scan",
		Name:      "ticks_total",
		Help:      "Scanner ticks by outcome",
	},
	[]string{"outcome"},
)

// Evaluations counts cycle evaluations by result (qualified or a rejection
// reason).
var Evaluations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "arbscan",
		Subsystem: "scan",
		Name:      "evaluations_total",
		Help:      "Cycle evaluations by result",
	},
	[]string{"result"},
)

// ScanDuration observes the wall time of one full scan tick.
var ScanDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "arbscan",
		Subsystem: "scan",
		Name:      "tick_duration_seconds",
		Help:      "Duration of one scan tick",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	},
)

// OpportunitiesEmitted counts qualified opportunities handed to the sink.
var OpportunitiesEmitted = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "arbscan",
		Subsystem: "scan",
		Name:      "opportunities_total",
		Help:      "Qualified opportunities emitted",
	},
)

// SinkDropped counts pending opportunities shed by the bounded emit queue.
var SinkDropped = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "arbscan",
		Subsystem: "sink",
		Name:      "dropped_total",
		Help:      "Opportunities dropped on emit-queue overflow",
	},
)
