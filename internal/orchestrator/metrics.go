// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_polls_total",
			Help: "Total number of completed capture polls",
		},
		[]string{"source"},
	)

	pollFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_poll_failures_total",
			Help: "Total number of failed capture polls",
		},
		[]string{"source"},
	)

	pollsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_polls_skipped_total",
			Help: "Polls skipped because the previous capture was still in flight",
		},
		[]string{"source"},
	)

	pollsAbandoned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_polls_abandoned_total",
			Help: "Capture calls abandoned after exceeding their timeout",
		},
		[]string{"source"},
	)

	appendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_append_failures_total",
			Help: "Captured batches that failed to persist to the local store",
		},
		[]string{"source"},
	)

	eventsCaptured = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_events_total",
			Help: "Total events captured and persisted, by source",
		},
		[]string{"source"},
	)

	pollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "capture_poll_duration_seconds",
			Help:    "Duration of capture polls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	activeSources = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "capture_active_sources",
			Help: "Number of currently registered capture sources",
		},
	)
)
