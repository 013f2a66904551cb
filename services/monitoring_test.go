package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"competition-engine/config"
	"competition-engine/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/currency"
)

func checkByName(t *testing.T, r *HealthReport, name string) CheckResult {
	t.Helper()
	for _, c := range r.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %s not in report", name)
	return CheckResult{}
}

func TestHealthCheckOnEmptyStore(t *testing.T) {
	h := newHarness(t, day(1))

	report := h.monitor.RunHealthCheck(context.Background())
	assert.True(t, report.Healthy)
	assert.Empty(t, report.Errors)
	assert.Len(t, report.Checks, 4)
	assert.Empty(t, h.notifier.sent())
}

func TestHealthCheckDetectsSnapshotDrift(t *testing.T) {
	h := newHarness(t, day(8))
	ctx := context.Background()

	c := h.create(t, models.KindWeekly, models.StatusEnded, day(1), endOfDay(7))
	h.enter(t, c, "u1", "100", day(2))
	_, err := h.finalizer.Finalize(ctx, c.ID, models.TriggerScheduler)
	require.NoError(t, err)

	report := h.monitor.RunHealthCheck(ctx)
	assert.True(t, checkByName(t, report, "snapshot_consistency_weekly").Healthy)

	// A late write changes the live score after finalization.
	require.NoError(t, h.gw.DB.Model(&models.Participation{}).
		Where("competition_id = ? AND user_id = ?", c.ID, "u1").
		Update("score", decimal.NewFromInt(130)).Error)

	report = h.monitor.RunHealthCheck(ctx)
	assert.False(t, report.Healthy)
	assert.False(t, checkByName(t, report, "snapshot_consistency_weekly").Healthy)
	assert.Equal(t, []string{models.AlertRankingDiscrepancy}, report.AlertsRaised)

	sent := h.notifier.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, models.SeverityCritical, sent[0].Severity)
	assert.Equal(t, c.ID, sent[0].Metadata["competition_id"])
}

func TestAlertsAreDeduplicatedWithinWindow(t *testing.T) {
	h := newHarness(t, day(2))
	ctx := context.Background()

	c := h.create(t, models.KindDaily, models.StatusActive, day(2), endOfDay(2))
	compID := c.ID
	require.NoError(t, h.gw.CreateGameSession(ctx, &models.GameSession{
		UserID:        "stranger",
		CompetitionID: &compID,
		Status:        models.SessionInProgress,
		StartedAt:     day(2),
	}))
	require.NoError(t, h.gw.DB.Model(&models.GameSession{}).
		Where("user_id = ?", "stranger").
		Update("status", models.SessionCompleted).Error)

	first := h.monitor.RunHealthCheck(ctx)
	assert.Equal(t, []string{models.AlertOrphanedSessions}, first.AlertsRaised)

	h.clock.Set(day(2).Add(30 * time.Minute))
	second := h.monitor.RunHealthCheck(ctx)
	assert.False(t, checkByName(t, second, "orphaned_sessions").Healthy)
	assert.Empty(t, second.AlertsRaised)
	assert.Len(t, h.notifier.sent(), 1)

	h.clock.Set(day(2).Add(2 * time.Hour))
	third := h.monitor.RunHealthCheck(ctx)
	assert.Equal(t, []string{models.AlertOrphanedSessions}, third.AlertsRaised)
	assert.Len(t, h.notifier.sent(), 2)

	alerts, err := h.gw.ListAlerts(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, alerts, 2)
}

func TestThresholdsAlertOnlyWhenExceeded(t *testing.T) {
	h := newHarness(t, day(2))
	ctx := context.Background()
	monitor := NewMonitor(h.gw, h.notifier, nil, h.clock, config.MonitoringConfig{
		AlertDedupWindow:        time.Hour,
		OrphanSessionThreshold:  1,
		PendingPaymentAge:       72 * time.Hour,
		PendingPaymentThreshold: 1,
	}, currency.USD)

	c := h.create(t, models.KindDaily, models.StatusActive, day(2), endOfDay(2))
	orphan := func(user string) {
		compID := c.ID
		require.NoError(t, h.gw.CreateGameSession(ctx, &models.GameSession{
			UserID:        user,
			CompetitionID: &compID,
			Status:        models.SessionInProgress,
			StartedAt:     day(2),
		}))
		require.NoError(t, h.gw.DB.Model(&models.GameSession{}).
			Where("user_id = ?", user).
			Update("status", models.SessionCompleted).Error)
	}

	orphan("stranger-1")
	report := monitor.RunHealthCheck(ctx)
	assert.True(t, checkByName(t, report, "orphaned_sessions").Healthy)
	assert.Empty(t, report.AlertsRaised)

	orphan("stranger-2")
	report = monitor.RunHealthCheck(ctx)
	assert.False(t, checkByName(t, report, "orphaned_sessions").Healthy)
	assert.Equal(t, []string{models.AlertOrphanedSessions}, report.AlertsRaised)
}

func TestPendingPaymentsAlertFormatsAmount(t *testing.T) {
	h := newHarness(t, day(8))
	ctx := context.Background()

	c := h.create(t, models.KindWeekly, models.StatusEnded, day(1), endOfDay(7))
	h.enter(t, c, "u1", "100", day(2))
	h.enter(t, c, "u2", "50", day(2))
	_, err := h.finalizer.Finalize(ctx, c.ID, models.TriggerScheduler)
	require.NoError(t, err)

	report := h.monitor.RunHealthCheck(ctx)
	assert.True(t, checkByName(t, report, "pending_payments").Healthy)

	h.clock.Set(day(12))
	report = h.monitor.RunHealthCheck(ctx)
	check := checkByName(t, report, "pending_payments")
	assert.False(t, check.Healthy)
	assert.Contains(t, check.Detail, "2 prize payments")
	assert.Contains(t, check.Detail, "150")
}

func TestRaiseSurvivesNotifierFailure(t *testing.T) {
	h := newHarness(t, day(1))
	h.notifier.err = errors.New("webhook down")

	created, err := h.monitor.Raise(context.Background(), models.Alert{
		Type:     models.AlertInvariantViolation,
		Severity: models.SeverityCritical,
		Message:  "boom",
	})
	require.NoError(t, err)
	assert.True(t, created)

	alerts, err := h.gw.ListAlerts(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "boom", alerts[0].Message)
}
