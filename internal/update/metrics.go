// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "update_checks_total",
			Help: "Total update manifest polls",
		},
	)

	checkFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "update_check_failures_total",
			Help: "Total failed update checks, including verification failures",
		},
	)

	updatesApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "updates_applied_total",
			Help: "Total updates staged successfully",
		},
	)
)
