// Package metrics exports engine measurements to Prometheus.
package metrics

import (
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"xpengine/core"
	"xpengine/engine"
)

const namespace = "xpengine"

// Recorder implements engine.Recorder with Prometheus collectors registered
// on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	Activities       *prometheus.CounterVec
	XPAwarded        prometheus.Counter
	RecordDuration   *prometheus.HistogramVec
	DecayTransitions *prometheus.CounterVec
	SweepFailures    prometheus.Counter
	Promotions       *prometheus.CounterVec
	DBConnPoolStats  *prometheus.GaugeVec
}

// New creates a Recorder with a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Recorder{
		registry: reg,
		Activities: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "activities_total",
				Help:      "Recorded activities by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		XPAwarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "xp_awarded_total",
			Help:      "Total XP granted by accepted activities",
		}),
		RecordDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "record_duration_seconds",
				Help:      "RecordActivity latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		DecayTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decay_transitions_total",
				Help:      "Momentum transitions applied by the decay sweep",
			},
			[]string{"to"},
		),
		SweepFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_failures_total",
			Help:      "Users skipped by the decay sweep after an error",
		}),
		Promotions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "promotions_total",
				Help:      "League promotions by destination league",
			},
			[]string{"league"},
		),
		DBConnPoolStats: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connection_pool",
				Help:      "Database connection pool statistics",
			},
			[]string{"stat"},
		),
	}
}

// Registry returns the registry to expose, e.g. with promhttp.HandlerFor.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) ActivityRecorded(action core.ActionType, outcome string, xp int64, took time.Duration) {
	r.Activities.WithLabelValues(string(action), outcome).Inc()
	r.RecordDuration.WithLabelValues(outcome).Observe(took.Seconds())
	if outcome == engine.OutcomeAccepted && xp > 0 {
		r.XPAwarded.Add(float64(xp))
	}
}

func (r *Recorder) DecayTransition(to core.MomentumState) {
	r.DecayTransitions.WithLabelValues(string(to)).Inc()
}

func (r *Recorder) SweepFailure() { r.SweepFailures.Inc() }

func (r *Recorder) Promotion(to core.League) {
	r.Promotions.WithLabelValues(to.Name).Inc()
}

// RecordDBPoolStats records database connection pool statistics
func (r *Recorder) RecordDBPoolStats(s sql.DBStats) {
	r.DBConnPoolStats.WithLabelValues("open").Set(float64(s.OpenConnections))
	r.DBConnPoolStats.WithLabelValues("in_use").Set(float64(s.InUse))
	r.DBConnPoolStats.WithLabelValues("idle").Set(float64(s.Idle))
	r.DBConnPoolStats.WithLabelValues("wait_count").Set(float64(s.WaitCount))
	r.DBConnPoolStats.WithLabelValues("wait_duration_ms").Set(float64(s.WaitDuration.Milliseconds()))
}

var _ engine.Recorder = (*Recorder)(nil)
