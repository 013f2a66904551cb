package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"competition-engine/config"
	"competition-engine/models"
	"competition-engine/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/currency"
)

var base = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time { return base.AddDate(0, 0, n-1) }

func endOfDay(n int) time.Time { return day(n + 1).Add(-time.Second) }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock { return &testClock{now: now} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []models.Alert
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, a models.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return n.err
}

func (n *recordingNotifier) sent() []models.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.Alert(nil), n.alerts...)
}

type harness struct {
	gw         *store.GormGateway
	clock      *testClock
	validation *ValidationService
	ranking    *RankingEngine
	finalizer  *FinalizationEngine
	reconciler *Reconciler
	monitor    *Monitor
	notifier   *recordingNotifier
	service    *CompetitionService
}

func newHarness(t *testing.T, now time.Time) *harness {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	h := &harness{
		gw:       store.NewGormGateway(db),
		clock:    newTestClock(now),
		notifier: &recordingNotifier{},
	}
	h.validation = NewValidationService(h.gw, h.clock)
	h.ranking = NewRankingEngine(h.gw, DefaultPrizeTables(), h.clock, time.UTC)
	h.monitor = NewMonitor(h.gw, h.notifier, nil, h.clock, config.MonitoringConfig{
		AlertDedupWindow:        time.Hour,
		ScoreDriftThreshold:     decimal.Zero,
		OrphanSessionThreshold:  0,
		PendingPaymentAge:       72 * time.Hour,
		PendingPaymentThreshold: 0,
	}, currency.USD)
	h.finalizer = NewFinalizationEngine(h.gw, h.ranking, h.validation, h.clock)
	h.finalizer.Alerts = h.monitor
	h.reconciler = NewReconciler(h.gw, h.finalizer, h.clock, 5*time.Second)
	h.service = NewCompetitionService(h.gw, h.validation, h.ranking, h.finalizer, h.clock, time.UTC)
	return h
}

func (h *harness) create(t *testing.T, kind models.Kind, status models.Status, start, end time.Time) *models.Competition {
	t.Helper()
	id := uuid.NewString()
	c := &models.Competition{
		ID:      id,
		Kind:    kind,
		Title:   string(kind) + " challenge",
		Slug:    string(kind) + "-challenge-" + id[:8],
		StartAt: start,
		EndAt:   end,
		Status:  status,
	}
	require.NoError(t, h.gw.CreateCompetition(context.Background(), c))
	return c
}

// enter adds userID to c with a fixed score, bypassing join validation so
// that fixtures can be set up for competitions in any status.
func (h *harness) enter(t *testing.T, c *models.Competition, userID string, score string, at time.Time) {
	t.Helper()
	p := &models.Participation{
		ID:            uuid.NewString(),
		CompetitionID: c.ID,
		UserID:        userID,
		Score:         decimal.RequireFromString(score),
		PrizeAmount:   decimal.Zero,
		PaymentStatus: models.PaymentNotEligible,
		JoinedAt:      c.StartAt,
	}
	if p.Score.IsPositive() {
		p.ScoreAchievedAt = &at
	}
	require.NoError(t, h.gw.DB.Create(p).Error)
}

func (h *harness) accumulate(t *testing.T, kind models.Kind, userID, score string) {
	t.Helper()
	require.NoError(t, h.gw.DB.Create(&models.ScoreAccumulator{
		Kind:        kind,
		UserID:      userID,
		PeriodScore: decimal.RequireFromString(score),
		UpdatedAt:   h.clock.Now(),
	}).Error)
}

func (h *harness) status(t *testing.T, id string) models.Status {
	t.Helper()
	c, err := h.gw.GetCompetition(context.Background(), id)
	require.NoError(t, err)
	return c.Status
}

func (h *harness) count(t *testing.T, model any, where string, args ...any) int64 {
	t.Helper()
	var n int64
	q := h.gw.DB.Model(model)
	if where != "" {
		q = q.Where(where, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}
