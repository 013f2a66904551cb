package store

import (
	"context"
	"errors"

	"competition-engine/apperrors"
	"competition-engine/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// replaceRankingEntries deletes every entry of periodKey, verifies the period
// is empty and inserts entries. Periods owned by a snapshot other than
// ownerSnapshotID are frozen.
func replaceRankingEntries(tx *gorm.DB, periodKey string, entries []models.RankingEntry, ownerSnapshotID string) error {
	var frozen int64
	q := tx.Model(&models.Snapshot{}).Where("period_key = ?", periodKey)
	if ownerSnapshotID != "" {
		q = q.Where("id <> ?", ownerSnapshotID)
	}
	if err := q.Count(&frozen).Error; err != nil {
		return translate(err, "check ranking period owner")
	}
	if frozen > 0 {
		return apperrors.Invariant(apperrors.CodeSnapshotImmutable, "ranking period %s belongs to a finalized snapshot", periodKey)
	}

	if err := tx.Where("period_key = ?", periodKey).Delete(&models.RankingEntry{}).Error; err != nil {
		return translate(err, "delete ranking entries")
	}

	var remaining int64
	if err := tx.Model(&models.RankingEntry{}).Where("period_key = ?", periodKey).Count(&remaining).Error; err != nil {
		return translate(err, "count ranking entries")
	}
	if remaining != 0 {
		return apperrors.Invariant(apperrors.CodeRankingNotEmpty,
			"%d ranking entries survived delete for period %s", remaining, periodKey)
	}

	if len(entries) == 0 {
		return nil
	}
	for i := range entries {
		entries[i].PeriodKey = periodKey
		if entries[i].ID == "" {
			entries[i].ID = uuid.NewString()
		}
	}
	if err := tx.CreateInBatches(entries, 200).Error; err != nil {
		if isUniqueViolation(err) {
			return apperrors.Invariant(apperrors.CodeDuplicatePositions,
				"ranking for period %s repeats a position or a user", periodKey)
		}
		return translate(err, "insert ranking entries")
	}
	return nil
}

func (g *GormGateway) ReplaceRankingEntries(ctx context.Context, periodKey string, entries []models.RankingEntry) error {
	return g.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return replaceRankingEntries(tx, periodKey, entries, "")
	})
}

func (g *GormGateway) ListRankingEntries(ctx context.Context, periodKey string) ([]models.RankingEntry, error) {
	var out []models.RankingEntry
	if err := g.DB.WithContext(ctx).
		Where("period_key = ?", periodKey).
		Order("position ASC").
		Find(&out).Error; err != nil {
		return nil, translate(err, "list ranking entries")
	}
	return out, nil
}

// GetSnapshot loads the snapshot of a competition with its entries. Snapshots
// never change, so hits are served from the cache.
func (g *GormGateway) GetSnapshot(ctx context.Context, competitionID string) (*models.Snapshot, error) {
	var s models.Snapshot
	err := g.cached(ctx, snapshotCachePrefix+competitionID, &s, func() (any, error) {
		return loadSnapshot(g.DB.WithContext(ctx), competitionID)
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func loadSnapshot(tx *gorm.DB, competitionID string) (*models.Snapshot, error) {
	var s models.Snapshot
	err := tx.Preload("Entries", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}).First(&s, "competition_id = ?", competitionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound(apperrors.CodeSnapshotNotFound, "competition %s has no snapshot", competitionID)
		}
		return nil, translate(err, "load snapshot")
	}
	return &s, nil
}

// CommitFinalization claims the competition (ended -> completed), writes the
// snapshot and its ranking, settles every participation and resets the
// kind's accumulators. Nothing is written unless all of it succeeds.
func (g *GormGateway) CommitFinalization(ctx context.Context, commit FinalizationCommit) (*FinalizationOutcome, error) {
	c := commit.Competition
	now := commit.Now
	out := &FinalizationOutcome{}

	err := g.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Competition{}).
			Where("id = ? AND status = ?", c.ID, models.StatusEnded).
			Updates(map[string]any{"status": models.StatusCompleted, "updated_at": now})
		if res.Error != nil {
			return translate(res.Error, "complete competition")
		}
		if res.RowsAffected == 0 {
			return apperrors.Conflict(apperrors.CodeConcurrentFinalization,
				"competition %s is no longer ended", c.ID)
		}

		totalScore, totalPrize := decimal.Zero, decimal.Zero
		for _, e := range commit.Entries {
			totalScore = totalScore.Add(e.Score)
			totalPrize = totalPrize.Add(e.PrizeAmount)
		}
		snapshot := &models.Snapshot{
			ID:            commit.SnapshotID,
			CompetitionID: c.ID,
			Kind:          c.Kind,
			PeriodKey:     c.PeriodKey(),
			EntryCount:    len(commit.Entries),
			TotalScore:    totalScore,
			TotalPrize:    totalPrize,
			CreatedAt:     now,
		}
		if snapshot.ID == "" {
			snapshot.ID = uuid.NewString()
		}
		if err := tx.Omit(clause.Associations).Create(snapshot).Error; err != nil {
			if isUniqueViolation(err) {
				return apperrors.Conflict(apperrors.CodeConcurrentFinalization,
					"competition %s already has a snapshot", c.ID)
			}
			return translate(err, "create snapshot")
		}

		entries := make([]models.RankingEntry, len(commit.Entries))
		for i, e := range commit.Entries {
			e.SnapshotID = &snapshot.ID
			e.CompetitionID = &c.ID
			e.CreatedAt = now
			entries[i] = e
		}
		if err := replaceRankingEntries(tx, snapshot.PeriodKey, entries, snapshot.ID); err != nil {
			return err
		}

		if err := tx.Model(&models.Participation{}).
			Where("competition_id = ?", c.ID).
			Updates(map[string]any{
				"final_position": nil,
				"prize_amount":   decimal.Zero,
				"payment_status": models.PaymentNotEligible,
				"updated_at":     now,
			}).Error; err != nil {
			return translate(err, "reset participation outcomes")
		}
		for _, e := range entries {
			res := tx.Model(&models.Participation{}).
				Where("competition_id = ? AND user_id = ?", c.ID, e.UserID).
				Updates(map[string]any{
					"final_position": e.Position,
					"prize_amount":   e.PrizeAmount,
					"payment_status": models.PaymentStatusForPrize(e.PrizeAmount),
					"updated_at":     now,
				})
			if res.Error != nil {
				return translate(res.Error, "settle participation")
			}
			if res.RowsAffected != 1 {
				return apperrors.Invariant(apperrors.CodeParticipationNotFound,
					"ranked user %s has no participation in competition %s", e.UserID, c.ID)
			}
		}

		res = tx.Model(&models.ScoreAccumulator{}).
			Where("kind = ?", c.Kind).
			Updates(map[string]any{"period_score": decimal.Zero, "updated_at": now})
		if res.Error != nil {
			return translate(res.Error, "reset score accumulators")
		}
		out.ScoresReset = res.RowsAffected

		snapshot.Entries = entries
		out.Snapshot = snapshot
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.purgeCompetitions(ctx)
	return out, nil
}
