package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce      sync.Once
	attemptsSubmitted *prometheus.CounterVec
	submitFailures    *prometheus.CounterVec
	violationsTotal   *prometheus.CounterVec
	codeRunsTotal     *prometheus.CounterVec
	executorDuration  *prometheus.HistogramVec
	liveSessions      prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors on the default registry.
func RegisterMetrics() {
	registerOnce.Do(func() {
		attemptsSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mindcraft",
			Name:      "attempts_submitted_total",
			Help:      "Attempts persisted, by what triggered the submission.",
		}, []string{"trigger"})

		submitFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mindcraft",
			Name:      "attempt_submit_failures_total",
			Help:      "Attempt writes that failed and were left retryable.",
		}, []string{"trigger"})

		violationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mindcraft",
			Name:      "violations_total",
			Help:      "Proctoring violations recorded, by type.",
		}, []string{"type"})

		codeRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mindcraft",
			Name:      "code_runs_total",
			Help:      "Test-case runs, by language and outcome.",
		}, []string{"language", "outcome"})

		executorDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mindcraft",
			Name:      "executor_duration_seconds",
			Help:      "Latency of single code executions.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"backend"})

		liveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mindcraft",
			Name:      "live_sessions",
			Help:      "Attempts currently in progress on this instance.",
		})

		prometheus.MustRegister(attemptsSubmitted, submitFailures, violationsTotal, codeRunsTotal, executorDuration, liveSessions)
	})
}

// AttemptsSubmitted exposes the submitted attempts counter.
func AttemptsSubmitted() *prometheus.CounterVec {
	RegisterMetrics()
	return attemptsSubmitted
}

// SubmitFailures exposes the failed attempt write counter.
func SubmitFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return submitFailures
}

// Violations exposes the violation counter.
func Violations() *prometheus.CounterVec {
	RegisterMetrics()
	return violationsTotal
}

// CodeRuns exposes the code run counter.
func CodeRuns() *prometheus.CounterVec {
	RegisterMetrics()
	return codeRunsTotal
}

// ExecutorDuration exposes the execution latency histogram.
func ExecutorDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return executorDuration
}

// LiveSessions exposes the live session gauge.
func LiveSessions() prometheus.Gauge {
	RegisterMetrics()
	return liveSessions
}
