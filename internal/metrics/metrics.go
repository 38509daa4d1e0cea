package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Deployment job metrics
	JobsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sysmonfleet_deploy_jobs_enqueued_total",
			Help: "Total number of deployment jobs enqueued",
		},
	)

	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sysmonfleet_deploy_jobs_completed_total",
			Help: "Total number of deployment jobs that reached a terminal status",
		},
		[]string{"status"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sysmonfleet_deploy_queue_depth",
			Help: "Current depth of the deployment job queue",
		},
	)

	HostAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sysmonfleet_deploy_host_attempts_total",
			Help: "Total number of per-host deployment attempts",
		},
		[]string{"operation", "outcome"},
	)

	HostAttemptDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sysmonfleet_deploy_host_attempt_duration_seconds",
			Help:    "Duration of per-host deployment attempts in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Agent protocol metrics
	AgentHeartbeats = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sysmonfleet_agent_heartbeats_total",
			Help: "Total number of agent heartbeats received",
		},
		[]string{"outcome"},
	)

	AgentCommandsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sysmonfleet_agent_commands_delivered_total",
			Help: "Total number of pending commands handed to agents",
		},
	)

	AgentResultsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sysmonfleet_agent_results_submitted_total",
			Help: "Total number of command results submitted by agents",
		},
		[]string{"outcome"},
	)

	// Noise analysis metrics
	AnalysisRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sysmonfleet_noise_analysis_runs_total",
			Help: "Total number of noise analysis runs",
		},
	)

	AnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sysmonfleet_noise_analysis_duration_seconds",
			Help:    "Duration of noise analysis runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	AggregationCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sysmonfleet_events_aggregation_cache_total",
			Help: "Event aggregation cache lookups by outcome",
		},
		[]string{"outcome"},
	)
)
