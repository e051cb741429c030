package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful operations.
	OutcomeSuccess = "success"
	// OutcomeFailure labels operations that completed with a failing verdict.
	OutcomeFailure = "failure"
	// OutcomeError labels operations that could not be evaluated.
	OutcomeError = "error"
)

var (
	checkRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentry",
			Name:      "check_runs_total",
			Help:      "Total health check evaluations, partitioned by check type and status.",
		},
		[]string{"check_type", "status"},
	)

	checkDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mirador_sentry",
			Name:      "check_seconds",
			Help:      "Health check evaluation latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{"check_type"},
	)

	incidentsOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentry",
			Name:      "incidents_opened_total",
			Help:      "Total incidents opened, partitioned by severity.",
		},
		[]string{"severity"},
	)

	incidentTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentry",
			Name:      "incident_transitions_total",
			Help:      "Total incident state transitions, partitioned by target state.",
		},
		[]string{"to"},
	)

	remediationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentry",
			Name:      "remediation_attempts_total",
			Help:      "Total remediation attempts, partitioned by strategy, outcome and dry-run flag.",
		},
		[]string{"strategy", "outcome", "dry_run"},
	)

	remediationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_sentry",
			Name:      "remediation_seconds",
			Help:      "Remediation strategy execution latency in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	rightsizingAnalysisSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_sentry",
			Name:      "rightsizing_analysis_seconds",
			Help:      "Rightsizing analysis pass latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)
)

// Register attaches mirador-sentry collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		checkRunsTotal,
		checkDurationSeconds,
		incidentsOpenedTotal,
		incidentTransitionsTotal,
		remediationAttemptsTotal,
		remediationDurationSeconds,
		rightsizingAnalysisSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCheckRun records one check evaluation.
func ObserveCheckRun(checkType, status string, duration time.Duration) {
	checkRunsTotal.WithLabelValues(checkType, status).Inc()
	if duration < 0 {
		duration = 0
	}
	checkDurationSeconds.WithLabelValues(checkType).Observe(duration.Seconds())
}

// ObserveIncidentOpened records a newly opened incident.
func ObserveIncidentOpened(severity string) {
	incidentsOpenedTotal.WithLabelValues(severity).Inc()
}

// ObserveIncidentTransition records a state machine transition.
func ObserveIncidentTransition(to string) {
	incidentTransitionsTotal.WithLabelValues(to).Inc()
}

// ObserveRemediation records one strategy execution.
func ObserveRemediation(strategy string, success, dryRun bool, duration time.Duration) {
	outcome := OutcomeFailure
	if success {
		outcome = OutcomeSuccess
	}
	flag := "false"
	if dryRun {
		flag = "true"
	}
	remediationAttemptsTotal.WithLabelValues(strategy, outcome, flag).Inc()
	if duration < 0 {
		duration = 0
	}
	remediationDurationSeconds.Observe(duration.Seconds())
}

// ObserveRightsizingAnalysis records an analysis pass duration.
func ObserveRightsizingAnalysis(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	rightsizingAnalysisSeconds.Observe(duration.Seconds())
}
