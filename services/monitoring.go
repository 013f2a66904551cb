package services

import (
	"context"
	"fmt"
	"time"

	"competition-engine/config"
	"competition-engine/logger"
	"competition-engine/models"
	"competition-engine/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Monitor runs periodic consistency checks and raises de-duplicated alerts.
type Monitor struct {
	Store    store.Gateway
	Notifier Notifier
	Metrics  *Metrics
	Clock    Clock
	Config   config.MonitoringConfig
	Currency currency.Unit

	printer *message.Printer
}

func NewMonitor(gw store.Gateway, notifier Notifier, metrics *Metrics, clock Clock, cfg config.MonitoringConfig, unit currency.Unit) *Monitor {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Monitor{
		Store:    gw,
		Notifier: notifier,
		Metrics:  metrics,
		Clock:    clock,
		Config:   cfg,
		Currency: unit,
		printer:  message.NewPrinter(language.English),
	}
}

type CheckResult struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail"`
}

type HealthReport struct {
	CheckedAt    time.Time     `json:"checked_at"`
	Healthy      bool          `json:"healthy"`
	Checks       []CheckResult `json:"checks"`
	AlertsRaised []string      `json:"alerts_raised,omitempty"`
	Errors       []string      `json:"errors,omitempty"`
}

func (r *HealthReport) add(c CheckResult) {
	r.Checks = append(r.Checks, c)
	if !c.Healthy {
		r.Healthy = false
	}
}

func (r *HealthReport) fail(name string, err error) {
	r.Healthy = false
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", name, err))
	logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
}

// RunHealthCheck runs every check. A failing check is reported and the
// remaining checks still run.
func (m *Monitor) RunHealthCheck(ctx context.Context) *HealthReport {
	report := &HealthReport{CheckedAt: m.Clock.Now(), Healthy: true}

	for _, kind := range models.Kinds {
		m.checkSnapshotConsistency(ctx, kind, report)
	}
	m.checkOrphanedSessions(ctx, report)
	m.checkPendingPayments(ctx, report)

	logger.Info("health check finished",
		zap.Bool("healthy", report.Healthy),
		zap.Int("alerts", len(report.AlertsRaised)),
		zap.Int("errors", len(report.Errors)))
	return report
}

// checkSnapshotConsistency compares the live participant totals of the
// latest completed competition of kind with its snapshot.
func (m *Monitor) checkSnapshotConsistency(ctx context.Context, kind models.Kind, report *HealthReport) {
	name := "snapshot_consistency_" + string(kind)

	c, err := m.Store.LatestCompleted(ctx, kind)
	if err != nil {
		report.fail(name, err)
		return
	}
	if c == nil {
		report.add(CheckResult{Name: name, Healthy: true, Detail: "no completed competition"})
		return
	}

	snap, err := m.Store.GetSnapshot(ctx, c.ID)
	if err != nil {
		report.fail(name, err)
		return
	}
	live, err := m.Store.LiveScoreTotals(ctx, c.ID)
	if err != nil {
		report.fail(name, err)
		return
	}

	drift := live.Total.Sub(snap.TotalScore).Abs()
	m.Metrics.drift(string(kind), drift.InexactFloat64())

	countMismatch := live.Count != int64(snap.EntryCount)
	if !countMismatch && drift.LessThanOrEqual(m.Config.ScoreDriftThreshold) {
		report.add(CheckResult{Name: name, Healthy: true, Detail: fmt.Sprintf("competition %s matches its snapshot", c.ID)})
		return
	}

	msg := fmt.Sprintf("competition %s drifted from its snapshot: %d live scorers vs %d ranked, score drift %s",
		c.ID, live.Count, snap.EntryCount, drift.String())
	report.add(CheckResult{Name: name, Healthy: false, Detail: msg})
	m.raiseFromCheck(ctx, report, models.Alert{
		Type:     models.AlertRankingDiscrepancy,
		Severity: models.SeverityCritical,
		Message:  msg,
		Metadata: map[string]any{
			"competition_id":  c.ID,
			"kind":            string(kind),
			"live_count":      live.Count,
			"snapshot_count":  snap.EntryCount,
			"live_total":      live.Total.String(),
			"snapshot_total":  snap.TotalScore.String(),
			"drift":           drift.String(),
			"drift_threshold": m.Config.ScoreDriftThreshold.String(),
		},
	})
}

func (m *Monitor) checkOrphanedSessions(ctx context.Context, report *HealthReport) {
	const name = "orphaned_sessions"

	n, err := m.Store.CountOrphanedSessions(ctx)
	if err != nil {
		report.fail(name, err)
		return
	}
	m.Metrics.orphans(n)

	if n <= m.Config.OrphanSessionThreshold {
		report.add(CheckResult{Name: name, Healthy: true, Detail: fmt.Sprintf("%d orphaned sessions", n)})
		return
	}

	msg := m.printer.Sprintf("%d completed game sessions belong to competitions their players never joined", n)
	report.add(CheckResult{Name: name, Healthy: false, Detail: msg})
	m.raiseFromCheck(ctx, report, models.Alert{
		Type:     models.AlertOrphanedSessions,
		Severity: models.SeverityWarning,
		Message:  msg,
		Metadata: map[string]any{"count": n, "threshold": m.Config.OrphanSessionThreshold},
	})
}

func (m *Monitor) checkPendingPayments(ctx context.Context, report *HealthReport) {
	const name = "pending_payments"

	cutoff := m.Clock.Now().Add(-m.Config.PendingPaymentAge)
	pending, err := m.Store.PendingPayments(ctx, cutoff)
	if err != nil {
		report.fail(name, err)
		return
	}
	m.Metrics.overduePayments(pending.Count)

	if pending.Count <= m.Config.PendingPaymentThreshold {
		report.add(CheckResult{Name: name, Healthy: true, Detail: fmt.Sprintf("%d overdue payments", pending.Count)})
		return
	}

	msg := m.printer.Sprintf("%d prize payments pending for more than %v, totalling %v",
		pending.Count, m.Config.PendingPaymentAge, m.Currency.Amount(pending.Total.InexactFloat64()))
	report.add(CheckResult{Name: name, Healthy: false, Detail: msg})
	m.raiseFromCheck(ctx, report, models.Alert{
		Type:     models.AlertPendingPayments,
		Severity: models.SeverityWarning,
		Message:  msg,
		Metadata: map[string]any{
			"count":    pending.Count,
			"total":    pending.Total.String(),
			"currency": m.Currency.String(),
			"age":      m.Config.PendingPaymentAge.String(),
		},
	})
}

func (m *Monitor) raiseFromCheck(ctx context.Context, report *HealthReport, alert models.Alert) {
	created, err := m.Raise(ctx, alert)
	if err != nil {
		report.fail("raise "+alert.Type, err)
		return
	}
	if created {
		report.AlertsRaised = append(report.AlertsRaised, alert.Type)
	}
}

// Raise stores alert unless one of the same type was raised within the
// de-duplication window, then notifies. It reports whether alert was new.
func (m *Monitor) Raise(ctx context.Context, alert models.Alert) (bool, error) {
	now := m.Clock.Now()
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	alert.CreatedAt = now

	created, err := m.Store.CreateAlertIfAbsent(ctx, &alert, now.Add(-m.Config.AlertDedupWindow))
	if err != nil {
		return false, err
	}
	if !created {
		logger.Debug("alert suppressed by de-duplication window", zap.String("alert_type", alert.Type))
		return false, nil
	}

	m.Metrics.alert(alert.Type)
	if err := m.Notifier.Notify(ctx, alert); err != nil {
		logger.Warn("alert delivery failed", zap.String("alert_id", alert.ID), zap.String("alert_type", alert.Type), zap.Error(err))
	}
	return true, nil
}
