package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"competition-engine/apperrors"
	"competition-engine/logger"
	"competition-engine/models"
	"competition-engine/store"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CompetitionService is the on-demand entry point used by the HTTP API and
// the CLI. Every mutation goes through the same validation and finalization
// code as the reconciler.
type CompetitionService struct {
	Store      store.Gateway
	Validation *ValidationService
	Ranking    *RankingEngine
	Finalizer  *FinalizationEngine
	Clock      Clock
	Loc        *time.Location
}

func NewCompetitionService(gw store.Gateway, validation *ValidationService, ranking *RankingEngine, finalizer *FinalizationEngine, clock Clock, loc *time.Location) *CompetitionService {
	if loc == nil {
		loc = time.UTC
	}
	return &CompetitionService{
		Store:      gw,
		Validation: validation,
		Ranking:    ranking,
		Finalizer:  finalizer,
		Clock:      clock,
		Loc:        loc,
	}
}

type CreateCompetitionInput struct {
	Kind            string `json:"kind"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	StartAt         string `json:"start_at"` // date or RFC 3339
	EndAt           string `json:"end_at"`   // optional for daily
	MaxParticipants *int   `json:"max_participants"`
	PrizePool       string `json:"prize_pool"` // decimal string, weekly only
}

// CreateCompetition validates in and stores a competition. It starts out
// active when its window is already open and no other competition of the
// kind is active, scheduled otherwise. A scheduled competition is promoted
// by reconciliation once the active one is finalized.
func (s *CompetitionService) CreateCompetition(ctx context.Context, in CreateCompetitionInput) (*models.Competition, error) {
	kind := models.Kind(strings.ToLower(strings.TrimSpace(in.Kind)))
	if !kind.Valid() {
		return nil, apperrors.Validation(apperrors.CodeInvalidKind, "kind must be daily or weekly")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperrors.Validation(apperrors.CodeInvalidInput, "title is required")
	}

	startAt, endAt, err := ResolveWindow(kind, in.StartAt, in.EndAt, s.Loc)
	if err != nil {
		return nil, err
	}
	if err := s.Validation.ValidateWindow(kind, startAt, endAt); err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	if now.After(endAt) {
		return nil, apperrors.Validation(apperrors.CodeExpired, "window ended at %s", endAt.Format(time.RFC3339))
	}

	if in.MaxParticipants != nil && *in.MaxParticipants < 1 {
		return nil, apperrors.Validation(apperrors.CodeInvalidInput, "max_participants must be at least 1")
	}

	var prizePool decimal.NullDecimal
	if p := strings.TrimSpace(in.PrizePool); p != "" {
		if kind != models.KindWeekly {
			return nil, apperrors.Validation(apperrors.CodeInvalidInput, "only weekly competitions carry a prize pool")
		}
		d, err := decimal.NewFromString(p)
		if err != nil || d.IsNegative() {
			return nil, apperrors.Validation(apperrors.CodeInvalidInput, "prize_pool must be a non-negative amount")
		}
		prizePool = decimal.NewNullDecimal(d)
	}

	overlaps, err := s.Validation.ValidateOverlap(ctx, kind, startAt, endAt, "")
	if err != nil {
		return nil, err
	}
	if overlaps {
		return nil, apperrors.Validation(apperrors.CodeOverlap, "dates overlap an existing weekly competition")
	}

	status := models.StatusScheduled
	if !startAt.After(now) {
		status = models.StatusActive
	}

	id := uuid.NewString()
	c := &models.Competition{
		ID:              id,
		Kind:            kind,
		Title:           title,
		Description:     strings.TrimSpace(in.Description),
		Slug:            slug.Make(fmt.Sprintf("%s %s %s", kind, title, startAt.In(s.Loc).Format(dateLayout))) + "-" + id[:8],
		StartAt:         startAt,
		EndAt:           endAt,
		Status:          status,
		MaxParticipants: in.MaxParticipants,
		PrizePool:       prizePool,
	}
	err = s.Store.CreateCompetition(ctx, c)
	if c.Status == models.StatusActive && apperrors.HasCode(err, apperrors.CodeActiveCompetitionExists) {
		// The active slot of this kind is taken; queue behind it.
		c.Status = models.StatusScheduled
		err = s.Store.CreateCompetition(ctx, c)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("competition created",
		zap.String("competition_id", c.ID),
		zap.String("kind", string(c.Kind)),
		zap.String("status", string(c.Status)),
		zap.Time("start_at", c.StartAt),
		zap.Time("end_at", c.EndAt))
	return c, nil
}

type ListCompetitionsInput struct {
	Kind   string
	Status string // comma separated
	Limit  int
}

// ListCompetitions is a read path and may be served from the cache.
func (s *CompetitionService) ListCompetitions(ctx context.Context, in ListCompetitionsInput) ([]models.Competition, error) {
	var f store.CompetitionFilter
	if in.Kind != "" {
		f.Kind = models.Kind(strings.ToLower(in.Kind))
		if !f.Kind.Valid() {
			return nil, apperrors.Validation(apperrors.CodeInvalidKind, "unknown competition kind %q", in.Kind)
		}
	}
	for _, raw := range strings.Split(in.Status, ",") {
		raw = strings.TrimSpace(strings.ToLower(raw))
		if raw == "" {
			continue
		}
		st := models.Status(raw)
		if !st.Valid() {
			return nil, apperrors.Validation(apperrors.CodeInvalidInput, "unknown status %q", raw)
		}
		f.Statuses = append(f.Statuses, st)
	}
	if in.Limit < 0 {
		return nil, apperrors.Validation(apperrors.CodeInvalidInput, "limit must not be negative")
	}
	f.Limit = in.Limit

	out, err := s.Store.ListCompetitionsCached(ctx, f)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.Competition{}
	}
	return out, nil
}

func (s *CompetitionService) GetCompetition(ctx context.Context, id string) (*models.Competition, error) {
	c, err := s.Store.GetCompetition(ctx, id)
	if err != nil {
		return nil, err
	}
	n, err := s.Store.CountParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	c.ParticipantCount = n
	return c, nil
}

// JoinCompetition enrolls userID. The store re-checks status and capacity
// under a row lock, so the checks here only produce friendlier errors.
func (s *CompetitionService) JoinCompetition(ctx context.Context, competitionID, userID string) (*models.Participation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.Validation(apperrors.CodeInvalidInput, "user id is required")
	}

	c, err := s.Store.GetCompetition(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	if err := s.Validation.ValidateJoinable(ctx, c); err != nil {
		return nil, err
	}
	if err := s.Validation.ValidateNotDuplicateParticipant(ctx, c.ID, userID); err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	p := &models.Participation{
		CompetitionID: c.ID,
		UserID:        userID,
		Score:         decimal.Zero,
		PrizeAmount:   decimal.Zero,
		PaymentStatus: models.PaymentNotEligible,
		JoinedAt:      now,
		UpdatedAt:     now,
	}
	if err := s.Store.CreateParticipation(ctx, p); err != nil {
		return nil, err
	}

	logger.Info("user joined competition", zap.String("competition_id", c.ID), zap.String("user_id", userID))
	return p, nil
}

// ForceFinalize finalizes a competition on request of an operator.
func (s *CompetitionService) ForceFinalize(ctx context.Context, id string) (*FinalizationResult, error) {
	return s.Finalizer.Finalize(ctx, id, models.TriggerManual)
}

// ForceActivate activates a scheduled competition whose window is open.
func (s *CompetitionService) ForceActivate(ctx context.Context, id string) (*models.Competition, error) {
	c, err := s.Store.GetCompetition(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Validation.ValidateActivatable(c); err != nil {
		return nil, err
	}

	active, err := s.Store.ListCompetitions(ctx, store.CompetitionFilter{
		Kind:     c.Kind,
		Statuses: []models.Status{models.StatusActive},
		Limit:    1,
	})
	if err != nil {
		return nil, err
	}
	if len(active) > 0 {
		return nil, apperrors.Conflict(apperrors.CodeActiveCompetitionExists,
			"competition %s is already active, finalize it first", active[0].ID)
	}

	if err := s.Store.ActivateCompetition(ctx, c.ID, s.Clock.Now()); err != nil {
		return nil, err
	}
	logger.Info("competition activated by operator", zap.String("competition_id", c.ID), zap.String("kind", string(c.Kind)))
	return s.Store.GetCompetition(ctx, c.ID)
}

// Leaderboard is the live ranking of a running competition or the snapshot
// of a completed one.
func (s *CompetitionService) Leaderboard(ctx context.Context, competitionID string) ([]models.RankingEntry, error) {
	return s.Ranking.PreviewRanking(ctx, competitionID)
}

func (s *CompetitionService) ListAttempts(ctx context.Context, competitionID string) ([]models.FinalizationAttempt, error) {
	if _, err := s.Store.GetCompetition(ctx, competitionID); err != nil {
		return nil, err
	}
	return s.Store.ListAttempts(ctx, competitionID)
}

// StartSession opens a game session. A nil competitionID is a casual game.
func (s *CompetitionService) StartSession(ctx context.Context, userID string, competitionID *string) (*models.GameSession, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.Validation(apperrors.CodeInvalidInput, "user id is required")
	}
	if competitionID != nil {
		if _, err := s.Store.GetCompetition(ctx, *competitionID); err != nil {
			return nil, err
		}
	}

	session := &models.GameSession{
		UserID:        userID,
		CompetitionID: competitionID,
		Status:        models.SessionInProgress,
		Score:         decimal.Zero,
		StartedAt:     s.Clock.Now(),
	}
	if err := s.Store.CreateGameSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// CompleteSession records the final score of a session owned by userID.
func (s *CompetitionService) CompleteSession(ctx context.Context, sessionID, userID string, score decimal.Decimal) (*store.SessionOutcome, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.Validation(apperrors.CodeInvalidInput, "user id is required")
	}
	if score.IsNegative() {
		return nil, apperrors.Validation(apperrors.CodeInvalidInput, "score must not be negative")
	}
	out, err := s.Store.CompleteGameSession(ctx, sessionID, userID, score, s.Clock.Now())
	if err != nil {
		return nil, err
	}
	if !out.Counted {
		logger.Debug("session score not counted", zap.String("session_id", sessionID), zap.String("reason", out.Reason))
	}
	return out, nil
}

func (s *CompetitionService) MarkPrizePaid(ctx context.Context, competitionID, userID, reference string) (*models.Participation, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, apperrors.Validation(apperrors.CodeInvalidInput, "payout reference is required")
	}
	return s.Store.MarkPrizePaid(ctx, competitionID, userID, reference, s.Clock.Now())
}

func (s *CompetitionService) ListAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	return s.Store.ListAlerts(ctx, limit)
}

type LiveLeaderboard struct {
	Kind      models.Kind           `json:"kind"`
	PeriodKey string                `json:"period_key"`
	Entries   []models.RankingEntry `json:"entries"`
}

// PublishLeaderboard recomputes and stores the live leaderboard of kind for
// the current period.
func (s *CompetitionService) PublishLeaderboard(ctx context.Context, kind string) (*LiveLeaderboard, error) {
	k := models.Kind(strings.ToLower(kind))
	period, entries, err := s.Ranking.PublishRanking(ctx, k)
	if err != nil {
		return nil, err
	}
	return &LiveLeaderboard{Kind: k, PeriodKey: period, Entries: entries}, nil
}

// CurrentLeaderboard returns the last published live leaderboard of kind.
func (s *CompetitionService) CurrentLeaderboard(ctx context.Context, kind string) (*LiveLeaderboard, error) {
	k := models.Kind(strings.ToLower(kind))
	if !k.Valid() {
		return nil, apperrors.Validation(apperrors.CodeInvalidKind, "unknown competition kind %q", kind)
	}
	period := PeriodKeyFor(k, s.Clock.Now(), s.Loc)
	entries, err := s.Store.ListRankingEntries(ctx, period)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.RankingEntry{}
	}
	return &LiveLeaderboard{Kind: k, PeriodKey: period, Entries: entries}, nil
}
