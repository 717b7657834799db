// Package metrics exposes Prometheus collectors for runs, actions and
// automations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MissionRunsTotal counts mission runs by mission and terminal or gated status.
	MissionRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "missionflow",
			Name:      "mission_runs_total",
			Help:      "Total number of mission runs by outcome.",
		},
		[]string{"mission_id", "status"},
	)

	// MissionRunDuration observes the time from start to outcome of a run.
	MissionRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "missionflow",
			Name:      "mission_run_duration_seconds",
			Help:      "Mission run duration from start to outcome.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"mission_id"},
	)

	// ParseDiagnosticsTotal counts non-fatal parser findings.
	ParseDiagnosticsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "missionflow",
			Name:      "parse_diagnostics_total",
			Help:      "Parser diagnostics recorded on runs.",
		},
		[]string{"mission_id"},
	)

	// ActionExecutionsTotal counts executor calls by type and result.
	ActionExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "missionflow",
			Name:      "action_executions_total",
			Help:      "Total number of action executions.",
		},
		[]string{"type", "status"},
	)

	// AutomationFiresTotal counts automation runs by trigger and outcome.
	AutomationFiresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "missionflow",
			Name:      "automation_fires_total",
			Help:      "Total number of automation runs.",
		},
		[]string{"trigger", "status"},
	)

	// AutomationsDisabledTotal counts automations disabled by their failure streak.
	AutomationsDisabledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "missionflow",
			Name:      "automations_disabled_total",
			Help:      "Automations disabled after repeated failures.",
		},
	)

	// ActiveRuns is the number of runs currently holding a domain.
	ActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "missionflow",
			Name:      "active_runs",
			Help:      "Mission runs that are running or awaiting approval.",
		},
	)
)
