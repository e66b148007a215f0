// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for store operations.
var (
	storeAppendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_appends_total",
		Help: "Total number of committed append transactions",
	})

	storeEventsAppendedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_events_appended_total",
		Help: "Total number of events appended to the store",
	})

	storeAppendFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_append_failures_total",
		Help: "Total number of failed append transactions",
	})

	storeEventsSyncedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_events_synced_total",
		Help: "Total number of events transitioned from pending to synced",
	})

	storeEventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_events_dropped_total",
		Help: "Total number of pending events dropped after permanent server rejection",
	})

	storeEventsReapedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_events_reaped_total",
		Help: "Total number of synced events removed by retention sweeps",
	})

	storePendingEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "store_pending_events",
		Help: "Current number of pending events awaiting sync",
	})

	storeSyncedEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "store_synced_events",
		Help: "Current number of synced events awaiting retention expiry",
	})

	storeAppendLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "store_append_latency_seconds",
		Help:    "Append transaction latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	storeDBSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "store_db_size_bytes",
		Help: "BadgerDB database size in bytes",
	})

	storeGCRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_gc_runs_total",
		Help: "Total number of value log garbage collection rewrites",
	})
)

func recordAppend(events int) {
	storeAppendsTotal.Inc()
	storeEventsAppendedTotal.Add(float64(events))
}

func recordAppendFailure()              { storeAppendFailuresTotal.Inc() }
func recordAppendLatency(secs float64)  { storeAppendLatency.Observe(secs) }
func recordMarkSynced(events int)       { storeEventsSyncedTotal.Add(float64(events)) }
func recordDropped(events int64)        { storeEventsDroppedTotal.Add(float64(events)) }
func recordReaped(events int64)         { storeEventsReapedTotal.Add(float64(events)) }
func recordGCRun()                      { storeGCRunsTotal.Inc() }
func updatePendingGauge(count int64)    { storePendingEvents.Set(float64(count)) }
func updateSyncedGauge(count int64)     { storeSyncedEvents.Set(float64(count)) }
func updateDBSizeGauge(sizeBytes int64) { storeDBSizeBytes.Set(float64(sizeBytes)) }
