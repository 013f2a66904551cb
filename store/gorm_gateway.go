package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"competition-engine/apperrors"
	"competition-engine/logger"
	"competition-engine/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	competitionsCachePrefix = "competitions:"
	snapshotCachePrefix     = "snapshot:"
)

// GormGateway implements Gateway on top of gorm. It works against Postgres
// in production and SQLite in development and tests.
type GormGateway struct {
	DB       *gorm.DB
	cache    Cache
	cacheTTL time.Duration
}

type Option func(*GormGateway)

// WithCache enables the read-through query cache.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(g *GormGateway) {
		g.cache = c
		g.cacheTTL = ttl
	}
}

func NewGormGateway(db *gorm.DB, opts ...Option) *GormGateway {
	g := &GormGateway{DB: db, cache: NopCache{}}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var _ Gateway = (*GormGateway)(nil)

func (g *GormGateway) Ping(ctx context.Context) error {
	sqlDB, err := g.DB.DB()
	if err != nil {
		return translate(err, "get database handle")
	}
	return translate(sqlDB.PingContext(ctx), "ping database")
}

func (g *GormGateway) purgeCompetitions(ctx context.Context) {
	g.cache.Purge(ctx, competitionsCachePrefix)
}

func (g *GormGateway) cached(ctx context.Context, key string, dst any, load func() (any, error)) error {
	if b, ok := g.cache.Get(ctx, key); ok {
		if err := json.Unmarshal(b, dst); err == nil {
			return nil
		}
		logger.Warn("discarding unreadable cache entry", zap.String("key", key))
	}

	v, err := load()
	if err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", key, err)
	}
	g.cache.Set(ctx, key, b, g.cacheTTL)
	return json.Unmarshal(b, dst)
}

func (g *GormGateway) GetCompetition(ctx context.Context, id string) (*models.Competition, error) {
	return getCompetition(g.DB.WithContext(ctx), id)
}

func getCompetition(tx *gorm.DB, id string) (*models.Competition, error) {
	var c models.Competition
	if err := tx.First(&c, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound(apperrors.CodeCompetitionNotFound, "competition %s not found", id)
		}
		return nil, translate(err, "load competition")
	}
	return &c, nil
}

func (g *GormGateway) ListCompetitions(ctx context.Context, f CompetitionFilter) ([]models.Competition, error) {
	q := g.DB.WithContext(ctx).Model(&models.Competition{})
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if !f.EndedBefore.IsZero() {
		q = q.Where("end_at < ?", f.EndedBefore)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var out []models.Competition
	if err := q.Order("start_at ASC, created_at ASC").Find(&out).Error; err != nil {
		return nil, translate(err, "list competitions")
	}
	return out, nil
}

func (g *GormGateway) ListCompetitionsCached(ctx context.Context, f CompetitionFilter) ([]models.Competition, error) {
	key := fmt.Sprintf("%slist:%s:%v:%d:%d", competitionsCachePrefix, f.Kind, f.Statuses, f.EndedBefore.Unix(), f.Limit)
	var out []models.Competition
	err := g.cached(ctx, key, &out, func() (any, error) {
		return g.ListCompetitions(ctx, f)
	})
	return out, err
}

func (g *GormGateway) FindOverlappingWeekly(ctx context.Context, start, end time.Time, excludingID string) ([]models.Competition, error) {
	return findOverlappingWeekly(g.DB.WithContext(ctx), start, end, excludingID)
}

// findOverlappingWeekly returns open weekly competitions whose inclusive
// window intersects [start, end].
func findOverlappingWeekly(tx *gorm.DB, start, end time.Time, excludingID string) ([]models.Competition, error) {
	q := tx.Where("kind = ? AND status <> ? AND start_at <= ? AND end_at >= ?",
		models.KindWeekly, models.StatusCompleted, end, start)
	if excludingID != "" {
		q = q.Where("id <> ?", excludingID)
	}
	var out []models.Competition
	if err := q.Order("start_at ASC").Find(&out).Error; err != nil {
		return nil, translate(err, "check weekly overlap")
	}
	return out, nil
}

func (g *GormGateway) CreateCompetition(ctx context.Context, c *models.Competition) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	err := g.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if c.Kind.ExclusiveWindows() {
			overlapping, err := findOverlappingWeekly(tx, c.StartAt, c.EndAt, c.ID)
			if err != nil {
				return err
			}
			if len(overlapping) > 0 {
				return apperrors.Validation(apperrors.CodeOverlap,
					"weekly competition window overlaps competition %s", overlapping[0].ID)
			}
		}

		if err := tx.Create(c).Error; err != nil {
			if c.Status == models.StatusActive && isActivePerKindViolation(err) {
				return apperrors.Conflict(apperrors.CodeActiveCompetitionExists,
					"a %s competition is already active", c.Kind)
			}
			return translate(err, "create competition")
		}
		return nil
	})
	if err != nil {
		return err
	}

	g.purgeCompetitions(ctx)
	return nil
}

func (g *GormGateway) TransitionStatus(ctx context.Context, id string, from, to models.Status, now time.Time) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, apperrors.Invariant(apperrors.CodeIllegalTransition, "illegal status transition %s -> %s", from, to)
	}

	res := g.DB.WithContext(ctx).Model(&models.Competition{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": now})
	if res.Error != nil {
		if to == models.StatusActive && isActivePerKindViolation(res.Error) {
			return false, apperrors.Conflict(apperrors.CodeActiveCompetitionExists,
				"another competition of the same kind is already active")
		}
		return false, translate(res.Error, "update competition status")
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	g.purgeCompetitions(ctx)
	return true, nil
}

func (g *GormGateway) ActivateCompetition(ctx context.Context, id string, now time.Time) error {
	res := g.DB.WithContext(ctx).Model(&models.Competition{}).
		Where("id = ? AND status = ? AND start_at <= ? AND end_at >= ?", id, models.StatusScheduled, now, now).
		Updates(map[string]any{"status": models.StatusActive, "updated_at": now})
	if res.Error != nil {
		if isActivePerKindViolation(res.Error) {
			return apperrors.Conflict(apperrors.CodeActiveCompetitionExists,
				"another competition of the same kind is already active")
		}
		return translate(res.Error, "activate competition")
	}
	if res.RowsAffected == 0 {
		return apperrors.Conflict(apperrors.CodeStaleStatus,
			"competition %s is no longer scheduled inside its window", id)
	}

	g.purgeCompetitions(ctx)
	return nil
}

func (g *GormGateway) ActivateEarliestScheduled(ctx context.Context, kind models.Kind, now time.Time) (*models.Competition, error) {
	var activated *models.Competition

	err := g.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active int64
		if err := tx.Model(&models.Competition{}).
			Where("kind = ? AND status = ?", kind, models.StatusActive).
			Count(&active).Error; err != nil {
			return translate(err, "count active competitions")
		}
		if active > 0 {
			return apperrors.Conflict(apperrors.CodeActiveCompetitionExists, "a %s competition is already active", kind)
		}

		var candidate models.Competition
		err := tx.Where("kind = ? AND status = ? AND start_at <= ? AND end_at >= ?",
			kind, models.StatusScheduled, now, now).
			Order("start_at ASC, created_at ASC").
			First(&candidate).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return translate(err, "find scheduled competition")
		}

		res := tx.Model(&models.Competition{}).
			Where("id = ? AND status = ?", candidate.ID, models.StatusScheduled).
			Updates(map[string]any{"status": models.StatusActive, "updated_at": now})
		if res.Error != nil {
			if isActivePerKindViolation(res.Error) {
				return apperrors.Conflict(apperrors.CodeActiveCompetitionExists, "a %s competition is already active", kind)
			}
			return translate(res.Error, "activate competition")
		}
		if res.RowsAffected == 0 {
			return apperrors.Conflict(apperrors.CodeStaleStatus, "competition %s changed while activating", candidate.ID)
		}

		candidate.Status = models.StatusActive
		candidate.UpdatedAt = now
		activated = &candidate
		return nil
	})
	if err != nil {
		return nil, err
	}

	if activated != nil {
		g.purgeCompetitions(ctx)
	}
	return activated, nil
}

func (g *GormGateway) LatestCompleted(ctx context.Context, kind models.Kind) (*models.Competition, error) {
	q := g.DB.WithContext(ctx).Where("status = ?", models.StatusCompleted)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}

	var c models.Competition
	if err := q.Order("end_at DESC").First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, translate(err, "load latest completed competition")
	}
	return &c, nil
}
