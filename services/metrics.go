package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the engine's Prometheus collectors on a private registry.
// A nil *Metrics records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	reconcileTicks       *prometheus.CounterVec
	reconcileItems       *prometheus.CounterVec
	finalizations        *prometheus.CounterVec
	finalizationDuration prometheus.Histogram
	scoreDrift           *prometheus.GaugeVec
	orphanedSessions     prometheus.Gauge
	pendingPayments      prometheus.Gauge
	alerts               *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		reconcileTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "competition",
			Name:      "reconcile_ticks_total",
			Help:      "Reconciliation ticks by result (clean or with_errors).",
		}, []string{"result"}),
		reconcileItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "competition",
			Name:      "reconcile_items_total",
			Help:      "Competitions handled by the reconciler, by step and outcome.",
		}, []string{"step", "outcome"}),
		finalizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "competition",
			Name:      "finalizations_total",
			Help:      "Finalization attempts by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		finalizationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "competition",
			Name:      "finalization_duration_seconds",
			Help:      "Wall time of finalization attempts.",
			Buckets:   prometheus.DefBuckets,
		}),
		scoreDrift: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "competition",
			Name:      "snapshot_score_drift",
			Help:      "Absolute difference between live scores and the latest snapshot, by kind.",
		}, []string{"kind"}),
		orphanedSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "competition",
			Name:      "orphaned_sessions",
			Help:      "Completed game sessions tied to a competition the user never joined.",
		}),
		pendingPayments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "competition",
			Name:      "overdue_pending_payments",
			Help:      "Prize payments pending longer than the configured age.",
		}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "competition",
			Name:      "alerts_total",
			Help:      "Alerts raised, by type.",
		}, []string{"type"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.reconcileTicks,
		m.reconcileItems,
		m.finalizations,
		m.finalizationDuration,
		m.scoreDrift,
		m.orphanedSessions,
		m.pendingPayments,
		m.alerts,
	)
	return m
}

func (m *Metrics) tick(clean bool) {
	if m == nil {
		return
	}
	result := "clean"
	if !clean {
		result = "with_errors"
	}
	m.reconcileTicks.WithLabelValues(result).Inc()
}

func (m *Metrics) item(step, outcome string) {
	if m == nil {
		return
	}
	m.reconcileItems.WithLabelValues(step, outcome).Inc()
}

func (m *Metrics) finalization(trigger, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.finalizations.WithLabelValues(trigger, outcome).Inc()
	m.finalizationDuration.Observe(seconds)
}

func (m *Metrics) drift(kind string, value float64) {
	if m == nil {
		return
	}
	m.scoreDrift.WithLabelValues(kind).Set(value)
}

func (m *Metrics) orphans(n int64) {
	if m == nil {
		return
	}
	m.orphanedSessions.Set(float64(n))
}

func (m *Metrics) overduePayments(n int64) {
	if m == nil {
		return
	}
	m.pendingPayments.Set(float64(n))
}

func (m *Metrics) alert(alertType string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(alertType).Inc()
}
