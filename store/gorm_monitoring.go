package store

import (
	"context"
	"time"

	"competition-engine/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func (g *GormGateway) AppendAttempt(ctx context.Context, a *models.FinalizationAttempt) error {
	if err := g.DB.WithContext(ctx).Create(a).Error; err != nil {
		return translate(err, "append finalization attempt")
	}
	return nil
}

func (g *GormGateway) ListAttempts(ctx context.Context, competitionID string) ([]models.FinalizationAttempt, error) {
	var out []models.FinalizationAttempt
	if err := g.DB.WithContext(ctx).
		Where("competition_id = ?", competitionID).
		Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, translate(err, "list finalization attempts")
	}
	return out, nil
}

type totalsRow struct {
	Total decimal.Decimal
	Count int64
}

func (g *GormGateway) LiveScoreTotals(ctx context.Context, competitionID string) (ScoreTotals, error) {
	var row totalsRow
	if err := g.DB.WithContext(ctx).Model(&models.Participation{}).
		Select("COALESCE(SUM(score), 0) AS total, COUNT(*) AS count").
		Where("competition_id = ? AND score > 0", competitionID).
		Scan(&row).Error; err != nil {
		return ScoreTotals{}, translate(err, "sum participant scores")
	}
	return ScoreTotals{Total: row.Total, Count: row.Count}, nil
}

// CountOrphanedSessions counts completed sessions tied to a competition the
// user never joined.
func (g *GormGateway) CountOrphanedSessions(ctx context.Context) (int64, error) {
	var n int64
	err := g.DB.WithContext(ctx).Raw(`
		SELECT COUNT(*) FROM game_sessions gs
		WHERE gs.status = ?
		  AND gs.competition_id IS NOT NULL
		  AND NOT EXISTS (
		      SELECT 1 FROM participations p
		      WHERE p.competition_id = gs.competition_id AND p.user_id = gs.user_id
		  )`, models.SessionCompleted).Scan(&n).Error
	if err != nil {
		return 0, translate(err, "count orphaned sessions")
	}
	return n, nil
}

// PendingPayments sums prizes still pending whose competition was finalized
// before finalizedBefore.
func (g *GormGateway) PendingPayments(ctx context.Context, finalizedBefore time.Time) (PendingPayments, error) {
	var row totalsRow
	err := g.DB.WithContext(ctx).Table("participations AS p").
		Select("COALESCE(SUM(p.prize_amount), 0) AS total, COUNT(*) AS count").
		Joins("JOIN ranking_snapshots s ON s.competition_id = p.competition_id").
		Where("p.payment_status = ? AND s.created_at < ?", models.PaymentPending, finalizedBefore).
		Scan(&row).Error
	if err != nil {
		return PendingPayments{}, translate(err, "sum pending payments")
	}
	return PendingPayments{Count: row.Count, Total: row.Total}, nil
}

func (g *GormGateway) CreateAlertIfAbsent(ctx context.Context, a *models.Alert, since time.Time) (bool, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	created := false
	err := g.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var recent int64
		if err := tx.Model(&models.Alert{}).
			Where("type = ? AND created_at >= ?", a.Type, since).
			Count(&recent).Error; err != nil {
			return translate(err, "check recent alerts")
		}
		if recent > 0 {
			return nil
		}
		if err := tx.Create(a).Error; err != nil {
			return translate(err, "create alert")
		}
		created = true
		return nil
	})
	return created, err
}

func (g *GormGateway) ListAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []models.Alert
	if err := g.DB.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, translate(err, "list alerts")
	}
	return out, nil
}
