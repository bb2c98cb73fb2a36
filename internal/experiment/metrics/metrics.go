package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricsPrefix = "galileo_experiments_"

const (
	phaseLabel   = "phase"
	outcomeLabel = "outcome"
	kindLabel    = "kind"
	groupLabel   = "group"
	codeLabel    = "code"
)

var phaseTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricsPrefix + "phase_total",
		Help: "Lifecycle phases executed, by outcome",
	},
	[]string{phaseLabel, outcomeLabel})

var phaseDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    MetricsPrefix + "phase_duration_seconds",
		Help:    "Duration of lifecycle phases",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	},
	[]string{phaseLabel})

var runTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricsPrefix + "run_total",
		Help: "Experiment runs, by outcome",
	},
	[]string{outcomeLabel})

var failureTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricsPrefix + "failure_total",
		Help: "Failures observed during experiment runs, by error kind",
	},
	[]string{kindLabel})

var podsSpawned = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: MetricsPrefix + "pods_spawned_total",
		Help: "Number of workload pods created",
	})

var podsRemoved = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: MetricsPrefix + "pods_removed_total",
		Help: "Number of workload pods deleted during teardown",
	})

var weightKeys = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: MetricsPrefix + "weight_keys",
		Help: "Weight-table keys currently published by this process",
	})

var routes = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: MetricsPrefix + "routes",
		Help: "Routing-table entries currently published by this process",
	})

var requestTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricsPrefix + "request_total",
		Help: "Requests issued by client groups, by status code",
	},
	[]string{groupLabel, codeLabel})

func RecordPhase(phase string, outcome string, duration time.Duration) {
	phaseTotal.WithLabelValues(phase, outcome).Inc()
	phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

func RecordRun(outcome string) {
	runTotal.WithLabelValues(outcome).Inc()
}

func RecordFailure(kind string) {
	failureTotal.WithLabelValues(kind).Inc()
}

func RecordPodsSpawned(n int) {
	podsSpawned.Add(float64(n))
}

func RecordPodsRemoved(n int) {
	podsRemoved.Add(float64(n))
}

func RecordWeightKeys(delta int) {
	weightKeys.Add(float64(delta))
}

func RecordRoutes(delta int) {
	routes.Add(float64(delta))
}

func RecordRequests(group string, statusCodes map[string]int) {
	for code, count := range statusCodes {
		requestTotal.WithLabelValues(group, code).Add(float64(count))
	}
}
