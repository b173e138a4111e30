package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "offrails"

// Metrics are the prometheus instruments updated by processors.
// A nil *Metrics ignores every update.
type Metrics struct {
	ticks             prometheus.Counter
	solves            *prometheus.CounterVec
	failures          *prometheus.CounterVec
	behaviourFailures prometheus.Counter
	anomalies         prometheus.Counter
	changepoints      prometheus.Counter
	solveDuration     prometheus.Histogram
	vessels           prometheus.Gauge
}

// NewMetrics creates the instruments and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Count of processor ticks.",
		}),
		solves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solves_total",
			Help:      "Count of rate solves, by whether the solution cache was hit.",
		}, []string{"cache"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solver_failures_total",
			Help:      "Count of rate solves that failed, by stage.",
		}, []string{"stage"}),
		behaviourFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "behaviour_failures_total",
			Help:      "Count of behaviour queries that errored or panicked.",
		}),
		anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Count of corrected data anomalies.",
		}),
		changepoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changepoints_total",
			Help:      "Count of changepoints stepped through by Advance.",
		}),
		solveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "solve_duration_seconds",
			Help:      "Wall time spent in the rate solver.",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
		}),
		vessels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vessels",
			Help:      "Number of vessels in the fleet.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ticks, m.solves, m.failures, m.behaviourFailures,
			m.anomalies, m.changepoints, m.solveDuration, m.vessels)
	}
	return m
}

// RecordTick records a processor tick.
func (m *Metrics) RecordTick() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}

// RecordSolve records a solver run and its wall time.
func (m *Metrics) RecordSolve(cacheHit bool, d time.Duration) {
	if m == nil {
		return
	}
	label := "miss"
	if cacheHit {
		label = "hit"
	}
	m.solves.WithLabelValues(label).Inc()
	m.solveDuration.Observe(d.Seconds())
}

// RecordFailure records a solver failure at stage.
func (m *Metrics) RecordFailure(stage string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(stage).Inc()
}

// RecordBehaviourFailure records a failed behaviour query.
func (m *Metrics) RecordBehaviourFailure() {
	if m == nil {
		return
	}
	m.behaviourFailures.Inc()
}

// RecordAnomalies records n corrected anomalies.
func (m *Metrics) RecordAnomalies(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.anomalies.Add(float64(n))
}

// RecordChangepoint records a changepoint step.
func (m *Metrics) RecordChangepoint() {
	if m == nil {
		return
	}
	m.changepoints.Inc()
}

// SetVessels sets the fleet size gauge.
func (m *Metrics) SetVessels(n int) {
	if m == nil {
		return
	}
	m.vessels.Set(float64(n))
}
