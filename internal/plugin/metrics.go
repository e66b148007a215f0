// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pluginsLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "plugins_loaded",
			Help: "Number of currently loaded capture plugins",
		},
	)

	pluginLoadFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plugin_load_failures_total",
			Help: "Total number of failed plugin load attempts",
		},
	)

	rescansTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plugin_rescans_total",
			Help: "Total number of plugin directory rescans",
		},
	)
)
