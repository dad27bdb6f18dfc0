// Package metrics exposes the reactive runtime's Prometheus instrumentation.
// All collectors below are registered at init. ComputationsActive and
// CacheEvictions are updated by the janitor and NotifierFires by the
// notifier adapters; nothing in this tree updates ConnectionsActive,
// ComputeRuns, ComputeDuration or FramesDispatched, so they stay at zero.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ConnectionsActive tracks currently open WebSocket connections.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reactive_connections_active",
		Help: "Number of currently open WebSocket connections",
	})

	// ComputationsActive tracks live entries in the subscription registry.
	ComputationsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reactive_computations_active",
		Help: "Number of distinct (session, action, params) computations currently live",
	})

	// ComputeRuns counts every compute invocation, by action and result.
	ComputeRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reactive_compute_runs_total",
		Help: "Total number of computation runs",
	}, []string{"action", "result"})

	// ComputeDuration observes compute invocation latency.
	ComputeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reactive_compute_duration_seconds",
		Help:    "Duration of computation runs in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	// FramesDispatched counts inbound frames by type and outcome.
	FramesDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reactive_frames_dispatched_total",
		Help: "Total number of inbound frames dispatched",
	}, []string{"type", "outcome"})

	// NotifierFires counts adapter-originated notifications, by adapter.
	NotifierFires = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reactive_notifier_fires_total",
		Help: "Total number of notifier fires originating from an adapter",
	}, []string{"adapter"})

	// CacheEvictions counts cached values evicted by the janitor's TTL
	// backstop sweep, as opposed to a computation's own expiry timer.
	CacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reactive_janitor_evictions_total",
		Help: "Total number of cached values evicted by the periodic janitor sweep",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		ComputationsActive,
		ComputeRuns,
		ComputeDuration,
		FramesDispatched,
		NotifierFires,
		CacheEvictions,
	)
}
