// Package metrics defines the Prometheus metrics exported by the bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bot kinds used as label values.
const (
	KindBot    = "bot"
	KindBridge = "bridge"
	KindShadow = "shadow"
)

// Outcome label values.
const (
	OutcomeConnected = "connected"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Factory Metrics
var (
	// BotsSpawnedTotal tracks bot creations by kind and outcome
	BotsSpawnedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_bots_spawned_total",
			Help: "Total bot creations by kind (bot/bridge/shadow) and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// DirectoryRequestsTotal tracks Slack directory listings by status
	DirectoryRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_directory_requests_total",
			Help: "Total Slack directory listings by status (success/error)",
		},
		[]string{"status"},
	)

	// StaggerPending tracks shadow bot creations waiting in the stagger queue
	StaggerPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_stagger_pending",
			Help: "Number of shadow bot creations waiting to run",
		},
	)

	// FleetBots tracks the number of bots currently owned by the fleet
	FleetBots = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_fleet_bots",
			Help: "Number of connected bots in the fleet",
		},
	)
)

// Scheduler Metrics
var (
	// TaskRunsTotal tracks periodic task runs by task and status
	TaskRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_task_runs_total",
			Help: "Total periodic task runs by task and status",
		},
		[]string{"task", "status"},
	)
)
