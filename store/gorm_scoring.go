package store

import (
	"context"
	"errors"
	"time"

	"competition-engine/apperrors"
	"competition-engine/logger"
	"competition-engine/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (g *GormGateway) GetParticipation(ctx context.Context, competitionID, userID string) (*models.Participation, error) {
	return getParticipation(g.DB.WithContext(ctx), competitionID, userID)
}

func getParticipation(tx *gorm.DB, competitionID, userID string) (*models.Participation, error) {
	var p models.Participation
	err := tx.Where("competition_id = ? AND user_id = ?", competitionID, userID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound(apperrors.CodeParticipationNotFound,
				"user %s has not joined competition %s", userID, competitionID)
		}
		return nil, translate(err, "load participation")
	}
	return &p, nil
}

func (g *GormGateway) CountParticipants(ctx context.Context, competitionID string) (int64, error) {
	var n int64
	if err := g.DB.WithContext(ctx).Model(&models.Participation{}).
		Where("competition_id = ?", competitionID).
		Count(&n).Error; err != nil {
		return 0, translate(err, "count participants")
	}
	return n, nil
}

// CreateParticipation re-checks status and capacity with the competition row
// locked, so concurrent joins cannot overshoot the cap.
func (g *GormGateway) CreateParticipation(ctx context.Context, p *models.Participation) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	return g.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c models.Competition
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&c, "id = ?", p.CompetitionID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NotFound(apperrors.CodeCompetitionNotFound, "competition %s not found", p.CompetitionID)
			}
			return translate(err, "lock competition")
		}
		if c.Status != models.StatusActive {
			return apperrors.Validation(apperrors.CodeNotActive, "competition %s is %s", c.ID, c.Status)
		}

		if c.MaxParticipants != nil {
			var n int64
			if err := tx.Model(&models.Participation{}).Where("competition_id = ?", c.ID).Count(&n).Error; err != nil {
				return translate(err, "count participants")
			}
			if c.IsFull(n) {
				return apperrors.Validation(apperrors.CodeFull, "competition %s is full", c.ID)
			}
		}

		if err := tx.Omit(clause.Associations).Create(p).Error; err != nil {
			if isUniqueViolation(err) {
				return apperrors.Validation(apperrors.CodeAlreadyJoined,
					"user %s already joined competition %s", p.UserID, p.CompetitionID)
			}
			return translate(err, "create participation")
		}
		return nil
	})
}

func (g *GormGateway) ListScoringParticipants(ctx context.Context, competitionID string) ([]models.Participation, error) {
	var out []models.Participation
	if err := g.DB.WithContext(ctx).
		Where("competition_id = ? AND score > 0", competitionID).
		Find(&out).Error; err != nil {
		return nil, translate(err, "list scoring participants")
	}
	return out, nil
}

// MarkPrizePaid moves a pending prize to paid. Marking an already paid prize
// again returns it unchanged.
func (g *GormGateway) MarkPrizePaid(ctx context.Context, competitionID, userID, reference string, paidAt time.Time) (*models.Participation, error) {
	db := g.DB.WithContext(ctx)
	if err := markPrizePaid(db, competitionID, userID, reference, paidAt); err != nil {
		return nil, err
	}
	return getParticipation(db, competitionID, userID)
}

func markPrizePaid(tx *gorm.DB, competitionID, userID, reference string, paidAt time.Time) error {
	res := tx.Model(&models.Participation{}).
		Where("competition_id = ? AND user_id = ? AND payment_status = ?", competitionID, userID, models.PaymentPending).
		Updates(map[string]any{
			"payment_status":   models.PaymentPaid,
			"paid_at":          paidAt,
			"payout_reference": reference,
			"updated_at":       paidAt,
		})
	if res.Error != nil {
		return translate(res.Error, "mark prize paid")
	}
	if res.RowsAffected == 1 {
		return nil
	}

	p, err := getParticipation(tx, competitionID, userID)
	if err != nil {
		return err
	}
	if p.PaymentStatus == models.PaymentPaid {
		return nil
	}
	return apperrors.Validation(apperrors.CodeNotEligible,
		"user %s has no pending prize in competition %s", userID, competitionID)
}

func (g *GormGateway) CreateGameSession(ctx context.Context, s *models.GameSession) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if err := g.DB.WithContext(ctx).Create(s).Error; err != nil {
		return translate(err, "create game session")
	}
	return nil
}

// CompleteGameSession closes an in-progress session and, when the user is a
// participant of the session's active competition, adds the score to the
// participation and to the kind's accumulator. A session owned by someone
// other than userID reads as not found.
func (g *GormGateway) CompleteGameSession(ctx context.Context, sessionID, userID string, score decimal.Decimal, now time.Time) (*SessionOutcome, error) {
	out := &SessionOutcome{}

	err := g.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var s models.GameSession
		if err := tx.First(&s, "id = ?", sessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NotFound(apperrors.CodeSessionNotFound, "game session %s not found", sessionID)
			}
			return translate(err, "load game session")
		}
		if s.UserID != userID {
			return apperrors.NotFound(apperrors.CodeSessionNotFound, "game session %s not found", sessionID)
		}

		res := tx.Model(&models.GameSession{}).
			Where("id = ? AND status = ?", sessionID, models.SessionInProgress).
			Updates(map[string]any{"status": models.SessionCompleted, "score": score, "completed_at": now})
		if res.Error != nil {
			return translate(res.Error, "complete game session")
		}
		if res.RowsAffected == 0 {
			return apperrors.Conflict(apperrors.CodeStaleStatus, "game session %s is already %s", sessionID, s.Status)
		}
		s.Status = models.SessionCompleted
		s.Score = score
		s.CompletedAt = &now
		out.Session = &s

		if s.CompetitionID == nil {
			out.Reason = "casual session"
			return nil
		}

		c, err := getCompetition(tx, *s.CompetitionID)
		if err != nil {
			return err
		}
		if c.Status != models.StatusActive || !c.WindowContains(now) {
			out.Reason = "competition is not accepting scores"
			return nil
		}

		p, err := getParticipation(tx, c.ID, s.UserID)
		if apperrors.IsNotFound(err) {
			out.Reason = "user has not joined the competition"
			return nil
		}
		if err != nil {
			return err
		}

		// Only a gain moves the tie-break timestamp.
		updates := map[string]any{
			"score":      gorm.Expr("score + ?", score),
			"updated_at": now,
		}
		if score.IsPositive() {
			updates["score_achieved_at"] = now
		}
		if err := tx.Model(&models.Participation{}).Where("id = ?", p.ID).Updates(updates).Error; err != nil {
			return translate(err, "add participation score")
		}

		acc := models.ScoreAccumulator{Kind: c.Kind, UserID: s.UserID, PeriodScore: score, UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "kind"}, {Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"period_score": gorm.Expr("score_accumulators.period_score + ?", score),
				"updated_at":   now,
			}),
		}).Create(&acc).Error; err != nil {
			return translate(err, "add accumulated score")
		}

		if err := tx.Model(&models.GameSession{}).Where("id = ?", s.ID).Update("counted", true).Error; err != nil {
			return translate(err, "flag game session")
		}
		s.Counted = true

		updated, err := getParticipation(tx, c.ID, s.UserID)
		if err != nil {
			return err
		}
		out.Participation = updated
		out.Counted = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (g *GormGateway) ListAccumulators(ctx context.Context, kind models.Kind) ([]models.ScoreAccumulator, error) {
	var out []models.ScoreAccumulator
	if err := g.DB.WithContext(ctx).
		Where("kind = ? AND period_score > 0", kind).
		Find(&out).Error; err != nil {
		return nil, translate(err, "list score accumulators")
	}
	return out, nil
}

func (g *GormGateway) UpsertPayoutConfirmations(ctx context.Context, confirmations []models.PayoutConfirmation) error {
	if len(confirmations) == 0 {
		return nil
	}
	err := g.DB.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: "reference"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"competition_id",
				"user_id",
				"amount",
				"paid_at",
				"updated_at",
			}),
		},
	).Create(&confirmations).Error
	return translate(err, "upsert payout confirmations")
}

// ApplyPayoutConfirmations marks the prizes of unapplied confirmations as
// paid. It returns how many confirmations were applied.
func (g *GormGateway) ApplyPayoutConfirmations(ctx context.Context) (int, error) {
	db := g.DB.WithContext(ctx)

	var pending []models.PayoutConfirmation
	if err := db.Where("applied = ?", false).Order("paid_at ASC").Find(&pending).Error; err != nil {
		return 0, translate(err, "list payout confirmations")
	}

	applied := 0
	for _, pc := range pending {
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := markPrizePaid(tx, pc.CompetitionID, pc.UserID, pc.Reference, pc.PaidAt); err != nil {
				return err
			}
			err := tx.Model(&models.PayoutConfirmation{}).
				Where("reference = ?", pc.Reference).
				Update("applied", true).Error
			return translate(err, "flag payout confirmation")
		})
		if err != nil {
			if apperrors.IsTransient(err) {
				return applied, err
			}
			logger.Warn("skipping payout confirmation",
				zap.String("reference", pc.Reference),
				zap.String("competition_id", pc.CompetitionID),
				zap.String("user_id", pc.UserID),
				zap.Error(err))
			continue
		}
		applied++
	}
	return applied, nil
}
