package limits

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the limits package.
//
// Caller keys are never used as labels; per-key state is available through
// the listing endpoints instead.
type Metrics struct {
	factory promauto.Factory

	acquires          *prometheus.CounterVec
	events            *prometheus.CounterVec
	evictions         *prometheus.CounterVec
	reconcileActions  *prometheus.CounterVec
	reconcileDuration prometheus.Histogram
	reloads           *prometheus.CounterVec
	replenishes       *prometheus.CounterVec
}

// NewMetrics registers the limits collectors with reg. A nil reg uses a
// private registry, which keeps repeated construction in tests safe.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		factory: factory,

		acquires: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packlimit_acquire_total",
				Help: "Total number of permit acquisitions by result",
			},
			[]string{"result"},
		),

		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packlimit_events_total",
				Help: "Total number of warn and blocked events emitted",
			},
			[]string{"kind"},
		),

		evictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packlimit_cache_evictions_total",
				Help: "Total number of limiters evicted from the cache",
			},
			[]string{"reason"},
		),

		reconcileActions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packlimit_reconcile_actions_total",
				Help: "Total number of per-key reconciliation outcomes",
			},
			[]string{"action"},
		),

		reconcileDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "packlimit_reconcile_duration_seconds",
				Help:    "Duration of reconciliation passes",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
			},
		),

		reloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packlimit_policy_reloads_total",
				Help: "Total number of policy reload attempts by result",
			},
			[]string{"result"},
		),

		replenishes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packlimit_replenish_total",
				Help: "Total number of administrative replenishments",
			},
			[]string{"scope"},
		),
	}
}

// ObserveCacheSize exports the number of cached limiters, read on scrape.
func (m *Metrics) ObserveCacheSize(size func() int) {
	m.factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "packlimit_cache_entries",
			Help: "Number of limiters currently cached",
		},
		func() float64 { return float64(size()) },
	)
}

// RecordAcquire records one acquisition result: granted, denied or fail_open.
func (m *Metrics) RecordAcquire(result string) {
	m.acquires.WithLabelValues(result).Inc()
}

// RecordEvent records an emitted warn or blocked event.
func (m *Metrics) RecordEvent(kind string) {
	m.events.WithLabelValues(kind).Inc()
}

// RecordEviction records a limiter leaving the cache.
func (m *Metrics) RecordEviction(reason string) {
	m.evictions.WithLabelValues(reason).Inc()
}

// RecordReconcile records the outcome counts and duration of one pass.
func (m *Metrics) RecordReconcile(r ReconcileReport, d time.Duration) {
	m.reconcileActions.WithLabelValues("kept").Add(float64(r.Kept))
	m.reconcileActions.WithLabelValues("rebuilt").Add(float64(r.Rebuilt))
	m.reconcileActions.WithLabelValues("rewarned").Add(float64(r.Rewarned))
	m.reconcileActions.WithLabelValues("failed").Add(float64(r.Failed))
	m.reconcileActions.WithLabelValues("skipped").Add(float64(r.Skipped))
	m.reconcileDuration.Observe(d.Seconds())
}

// RecordReload records a policy reload attempt: applied, unchanged or failed.
func (m *Metrics) RecordReload(result string) {
	m.reloads.WithLabelValues(result).Inc()
}

// RecordReplenish records an administrative replenishment.
func (m *Metrics) RecordReplenish(scope string, n int) {
	m.replenishes.WithLabelValues(scope).Add(float64(n))
}

// AcquireCounter returns the acquisition counter for result.
func (m *Metrics) AcquireCounter(result string) prometheus.Counter {
	return m.acquires.WithLabelValues(result)
}

// EventsCounter returns the event counter for kind.
func (m *Metrics) EventsCounter(kind string) prometheus.Counter {
	return m.events.WithLabelValues(kind)
}

// EvictionCounter returns the eviction counter for reason.
func (m *Metrics) EvictionCounter(reason string) prometheus.Counter {
	return m.evictions.WithLabelValues(reason)
}
