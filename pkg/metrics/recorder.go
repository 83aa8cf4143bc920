// Package metrics provides Prometheus-based recording and querying for merge
// and deployment activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder publishes merge and deployment counters to Prometheus.
type Recorder struct {
	evaluationsTotal   *prometheus.CounterVec
	mergesTotal        *prometheus.CounterVec
	blockersTotal      *prometheus.CounterVec
	deploymentPhases   *prometheus.CounterVec
	hostRetriesTotal   *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
}

// NewRecorder creates a recorder registered on reg; a nil reg uses the
// default registerer.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Recorder{
		evaluationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mergepilot_evaluations_total",
				Help: "Total number of merge evaluations by outcome",
			},
			[]string{"outcome"},
		),
		mergesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mergepilot_merges_total",
				Help: "Total number of merges by strategy",
			},
			[]string{"strategy"},
		),
		blockersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mergepilot_blockers_total",
				Help: "Total number of blockers reported by evaluations",
			},
			[]string{"blocker"},
		),
		deploymentPhases: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mergepilot_deployment_phases_total",
				Help: "Total number of deployment phase transitions by phase and environment",
			},
			[]string{"phase", "environment"},
		),
		hostRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mergepilot_host_retries_total",
				Help: "Total number of retried host API requests by operation",
			},
			[]string{"operation"},
		),
		notificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mergepilot_notifications_total",
				Help: "Total number of notification deliveries by result",
			},
			[]string{"result"},
		),
		evaluationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mergepilot_evaluation_duration_seconds",
				Help:    "Duration of end-to-end merge evaluations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
	}
}

// ObserveEvaluation records a completed merge evaluation.
func (r *Recorder) ObserveEvaluation(canMerge bool, blockers []string, duration time.Duration) {
	outcome := "mergeable"
	if !canMerge {
		outcome = "blocked"
	}
	r.evaluationsTotal.WithLabelValues(outcome).Inc()
	r.evaluationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	for _, blocker := range blockers {
		r.blockersTotal.WithLabelValues(blocker).Inc()
	}
}

// IncMerge records a completed merge by strategy.
func (r *Recorder) IncMerge(strategy string) {
	r.mergesTotal.WithLabelValues(strategy).Inc()
}

// IncDeploymentPhase records one phase transition.
func (r *Recorder) IncDeploymentPhase(phase, environment string) {
	r.deploymentPhases.WithLabelValues(phase, environment).Inc()
}

// IncHostRetry records a retried host API request.
func (r *Recorder) IncHostRetry(operation string) {
	r.hostRetriesTotal.WithLabelValues(operation).Inc()
}

// IncNotification records a notification delivery attempt.
func (r *Recorder) IncNotification(success bool) {
	result := "delivered"
	if !success {
		result = "failed"
	}
	r.notificationsTotal.WithLabelValues(result).Inc()
}
