// Package metrics defines the Prometheus collectors for the sync pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts finished runs by terminal status.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roadsync_runs_total",
		Help: "Sync runs finished, by terminal status.",
	}, []string{"status"})

	// RunsRunning is the number of runs currently executing in this process.
	RunsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roadsync_runs_running",
		Help: "Sync runs currently executing.",
	})

	// FetchAttemptsTotal counts external requests by outcome
	// (ok, rate_limited, timeout, server_error, network_error).
	FetchAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roadsync_fetch_attempts_total",
		Help: "External way-source requests, by outcome.",
	}, []string{"outcome"})

	// FetchBackoffSeconds observes retry waits.
	FetchBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "roadsync_fetch_backoff_seconds",
		Help:    "Backoff waited before retrying an external request.",
		Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32, 64},
	})

	// SegmentsWrittenTotal counts segments by op: created for ways with no
	// stored segments, replaced for the new segments of rewritten ways,
	// skipped as counted on the run.
	SegmentsWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roadsync_segments_written_total",
		Help: "Road segments handled by sync runs, by op (created, replaced, skipped).",
	}, []string{"op"})
)
