// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "spudbot"

// ── Polling ────────────────────────────────────────────────────────────

var (
	PollTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "poll",
		Name:      "total",
		Help:      "Total number of network info polls by status.",
	}, []string{"status"})

	PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "poll",
		Name:      "duration_seconds",
		Help:      "Duration of network info fetches in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	PollLastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "poll",
		Name:      "last_success_timestamp",
		Help:      "Unix timestamp of the last successful poll.",
	})

	NetworkValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "network",
		Name:      "value",
		Help:      "Latest normalized network statistic.",
	}, []string{"stat"})

	BusDropped = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "dropped_events",
		Help:      "Events dropped because a consumer was behind.",
	})
)

// ── Reconciliation ─────────────────────────────────────────────────────

var (
	ReconcilePasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconcile",
		Name:      "passes_total",
		Help:      "Reconciliation passes by outcome (ok, partial, failed, busy).",
	}, []string{"outcome"})

	ReconcileActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconcile",
		Name:      "actions_total",
		Help:      "Per-kind reconciliation actions.",
	}, []string{"kind", "action"})

	ReconcileErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconcile",
		Name:      "errors_total",
		Help:      "Per-kind reconciliation failures by error class.",
	}, []string{"kind", "class"})

	InvariantWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconcile",
		Name:      "invariant_warnings_total",
		Help:      "Invariant violations observed during passes.",
	}, []string{"check"})

	LastEpoch = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "reconcile",
		Name:      "last_epoch",
		Help:      "Epoch of the last reconciliation pass.",
	})
)

// ── Calendar ───────────────────────────────────────────────────────────

var (
	CalendarRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "calendar",
		Name:      "requests_total",
		Help:      "Calendar API calls by operation and result.",
	}, []string{"op", "result"})

	CalendarDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "calendar",
		Name:      "request_duration_seconds",
		Help:      "Calendar API latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})
)

// ── Series and presentation ────────────────────────────────────────────

var (
	SeriesPoints = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "series",
		Name:      "points_total",
		Help:      "Samples appended per metric.",
	}, []string{"metric"})

	SeriesPruned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "series",
		Name:      "pruned_total",
		Help:      "Samples removed by retention per metric.",
	}, []string{"metric"})

	TitleUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "present",
		Name:      "title_updates_total",
		Help:      "Chat titles renamed.",
	})

	PanelUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "present",
		Name:      "panel_updates_total",
		Help:      "Summary panel refreshes by result.",
	}, []string{"result"})
)

// ── Ops HTTP ───────────────────────────────────────────────────────────

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of ops HTTP requests.",
	}, []string{"method", "path", "status_code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Ops HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})
)
