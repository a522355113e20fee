package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// delayBuckets covers sub-millisecond streaming replication up to a
// badly lagging standby
var delayBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

var (
	// Check metrics
	CheckOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replcheck_check_outcomes_total",
			Help: "Total number of consistency check outcomes by check and status",
		},
		[]string{"check", "status"},
	)

	CheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "replcheck_check_duration_seconds",
			Help:    "Time from the start of a check to its outcome in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"check"},
	)

	CheckAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "replcheck_check_attempts",
			Help:    "Number of poll attempts per check",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		},
		[]string{"check"},
	)

	// Replication metrics
	ReplicationDelay = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "replcheck_replication_delay_seconds",
			Help: "Last measured time for a committed write to become visible on the replica",
		},
		[]string{"endpoint"},
	)

	ReplicationDelayObserved = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "replcheck_replication_delay_observed_seconds",
			Help:    "Distribution of measured replication delays",
			Buckets: delayBuckets,
		},
		[]string{"endpoint"},
	)

	// Failover metrics
	FailoverRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replcheck_failover_runs_total",
			Help: "Total number of failover drills by terminal state",
		},
		[]string{"state"},
	)

	FailoverDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "replcheck_failover_duration_seconds",
			Help:    "Failover drill duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	FailoverTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replcheck_failover_transitions_total",
			Help: "Total number of failover state transitions",
		},
		[]string{"from", "to"},
	)

	// Cluster control metrics
	ControlInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replcheck_control_invocations_total",
			Help: "Total number of cluster control invocations by action and result",
		},
		[]string{"action", "result"},
	)
)

func init() {
	prometheus.MustRegister(CheckOutcomesTotal)
	prometheus.MustRegister(CheckDuration)
	prometheus.MustRegister(CheckAttempts)
	prometheus.MustRegister(ReplicationDelay)
	prometheus.MustRegister(ReplicationDelayObserved)
	prometheus.MustRegister(FailoverRunsTotal)
	prometheus.MustRegister(FailoverDuration)
	prometheus.MustRegister(FailoverTransitionsTotal)
	prometheus.MustRegister(ControlInvocationsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// WriteTextfile writes every registered metric to path in the text
// exposition format, for the node_exporter textfile collector
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

// Push sends every registered metric to a Pushgateway under job
func Push(ctx context.Context, url, job string) error {
	err := push.New(url, job).
		Gatherer(prometheus.DefaultGatherer).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}

// Timer measures an operation for a histogram
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in h
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time in the labelled child of h
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
