// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_upload_cycles_total",
			Help: "Total number of sync cycles that attempted an upload",
		},
	)

	cycleFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_cycle_failures_total",
			Help: "Total number of failed sync cycles by failure class",
		},
		[]string{"reason"},
	)

	eventsSynced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_events_synced_total",
			Help: "Total events acknowledged by the collection service",
		},
	)

	eventsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_events_rejected_total",
			Help: "Total records individually rejected within accepted batches",
		},
	)

	eventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_events_dropped_total",
			Help: "Total events discarded after permanent rejection",
		},
	)

	pendingBacklog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_pending_backlog",
			Help: "Events in the local store awaiting acknowledgment",
		},
	)

	backoffSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_backoff_seconds",
			Help: "Current retry backoff delay, zero when healthy",
		},
	)

	breakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_circuit_breaker_state",
			Help: "Upload circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
	)

	registrationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_registrations_total",
			Help: "Total successful agent registrations",
		},
	)

	heartbeatsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_heartbeats_total",
			Help: "Total successful heartbeats",
		},
	)
)
