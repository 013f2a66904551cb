package services

import (
	"context"
	"time"

	"competition-engine/apperrors"
	"competition-engine/logger"
	"competition-engine/models"
	"competition-engine/store"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

const (
	stepLoad     = "load"
	stepValidate = "validate"
	stepEnd      = "end"
	stepRank     = "rank"
	stepCommit   = "commit"
	stepActivate = "activate"
	stepArchive  = "archive"
)

// attemptLogTimeout bounds writes to the attempt log, which outlive the
// caller's context so that a timed-out attempt is still recorded.
const attemptLogTimeout = 5 * time.Second

// SnapshotArchive stores a copy of a finalized snapshot outside the database.
type SnapshotArchive interface {
	Archive(ctx context.Context, s *models.Snapshot) (string, error)
}

// AlertRaiser is satisfied by *Monitor.
type AlertRaiser interface {
	Raise(ctx context.Context, alert models.Alert) (bool, error)
}

type FinalizationResult struct {
	AttemptID              string           `json:"attempt_id"`
	CompetitionID          string           `json:"competition_id"`
	Snapshot               *models.Snapshot `json:"snapshot"`
	AlreadyCompleted       bool             `json:"already_completed"`
	ScoresReset            int64            `json:"scores_reset"`
	ActivatedCompetitionID string           `json:"activated_competition_id,omitempty"`
	ArchiveURL             string           `json:"archive_url,omitempty"`
}

// FinalizationEngine turns an expired competition into a completed one with
// exactly one snapshot, then promotes the next scheduled competition.
type FinalizationEngine struct {
	Store      store.Gateway
	Ranking    *RankingEngine
	Validation *ValidationService
	Clock      Clock
	Archive    SnapshotArchive // optional
	Alerts     AlertRaiser     // optional
	Metrics    *Metrics
}

func NewFinalizationEngine(gw store.Gateway, ranking *RankingEngine, validation *ValidationService, clock Clock) *FinalizationEngine {
	return &FinalizationEngine{Store: gw, Ranking: ranking, Validation: validation, Clock: clock}
}

// attempt carries the state of one Finalize call.
type attempt struct {
	id            string
	competitionID string
	trigger       models.Trigger
	step          string
	superseded    bool
	log           *zap.Logger
}

// Finalize runs the whole finalization of competitionID. It is safe to call
// repeatedly and concurrently: the loser of a race returns the winner's
// snapshot with AlreadyCompleted set.
func (f *FinalizationEngine) Finalize(ctx context.Context, competitionID string, trigger models.Trigger) (*FinalizationResult, error) {
	started := time.Now()
	a := &attempt{
		id:            gonanoid.Must(),
		competitionID: competitionID,
		trigger:       trigger,
		step:          stepLoad,
	}
	a.log = logger.With(
		zap.String("attempt_id", a.id),
		zap.String("competition_id", competitionID),
		zap.String("trigger", string(trigger)),
	)

	f.record(ctx, a, models.PhaseStarted, nil, nil)

	res, err := f.run(ctx, a)
	if err != nil {
		f.record(ctx, a, models.PhaseFailed, nil, err)
		f.Metrics.finalization(string(trigger), "failed", time.Since(started).Seconds())

		if apperrors.IsInvariant(err) {
			a.log.Error("finalization hit an invariant violation", zap.String("step", a.step), zap.Error(err))
			f.raiseInvariant(ctx, a, err)
		} else {
			a.log.Warn("finalization failed", zap.String("step", a.step), zap.Error(err))
		}
		return nil, err
	}

	details := map[string]any{
		"snapshot_id":  res.Snapshot.ID,
		"entry_count":  res.Snapshot.EntryCount,
		"scores_reset": res.ScoresReset,
	}
	if res.ActivatedCompetitionID != "" {
		details["activated_competition_id"] = res.ActivatedCompetitionID
	}
	if res.AlreadyCompleted {
		details["already_completed"] = true
	}
	if a.superseded {
		details["superseded"] = true
	}
	if res.ArchiveURL != "" {
		details["archive_url"] = res.ArchiveURL
	}
	f.record(ctx, a, models.PhaseSucceeded, details, nil)

	outcome := "completed"
	if res.AlreadyCompleted {
		outcome = "already_completed"
	}
	f.Metrics.finalization(string(trigger), outcome, time.Since(started).Seconds())
	a.log.Info("finalization finished",
		zap.String("outcome", outcome),
		zap.String("snapshot_id", res.Snapshot.ID),
		zap.Int("entries", res.Snapshot.EntryCount),
		zap.String("activated", res.ActivatedCompetitionID))
	return res, nil
}

func (f *FinalizationEngine) run(ctx context.Context, a *attempt) (*FinalizationResult, error) {
	c, err := f.Store.GetCompetition(ctx, a.competitionID)
	if err != nil {
		return nil, err
	}
	if c.Status == models.StatusCompleted {
		return f.existing(ctx, a)
	}

	a.step = stepValidate
	if err := f.Validation.ValidateFinalizable(c); err != nil {
		return nil, err
	}
	now := f.Clock.Now()

	if c.Status == models.StatusActive {
		a.step = stepEnd
		moved, err := f.Store.TransitionStatus(ctx, c.ID, models.StatusActive, models.StatusEnded, now)
		if err != nil {
			return nil, err
		}
		if !moved {
			// Someone else moved it first; continue from whatever they left.
			c, err = f.Store.GetCompetition(ctx, c.ID)
			if err != nil {
				return nil, err
			}
			switch c.Status {
			case models.StatusCompleted:
				a.superseded = true
				return f.existing(ctx, a)
			case models.StatusEnded:
			default:
				return nil, apperrors.Conflict(apperrors.CodeStaleStatus,
					"competition %s is %s, expected ended", c.ID, c.Status)
			}
		}
		c.Status = models.StatusEnded
	}

	a.step = stepRank
	entries, err := f.Ranking.CompetitionRanking(ctx, c)
	if err != nil {
		return nil, err
	}

	a.step = stepCommit
	outcome, err := f.Store.CommitFinalization(ctx, store.FinalizationCommit{
		Competition: c,
		SnapshotID:  uuid.NewString(),
		Entries:     entries,
		Now:         now,
	})
	if apperrors.HasCode(err, apperrors.CodeConcurrentFinalization) {
		a.log.Info("finalization lost the race, returning the existing snapshot")
		a.superseded = true
		return f.existing(ctx, a)
	}
	if err != nil {
		return nil, err
	}

	res := &FinalizationResult{
		AttemptID:     a.id,
		CompetitionID: c.ID,
		Snapshot:      outcome.Snapshot,
		ScoresReset:   outcome.ScoresReset,
	}

	// The competition is completed from here on. Later steps never fail the
	// attempt.
	a.step = stepActivate
	res.ActivatedCompetitionID = f.activateNext(ctx, a, c.Kind, now)

	a.step = stepArchive
	res.ArchiveURL = f.archive(ctx, a, outcome.Snapshot)

	return res, nil
}

// existing builds the result for a competition that is already completed.
func (f *FinalizationEngine) existing(ctx context.Context, a *attempt) (*FinalizationResult, error) {
	snap, err := f.Store.GetSnapshot(ctx, a.competitionID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.Invariant(apperrors.CodeSnapshotNotFound,
				"competition %s is completed but has no snapshot", a.competitionID)
		}
		return nil, err
	}
	return &FinalizationResult{
		AttemptID:        a.id,
		CompetitionID:    a.competitionID,
		Snapshot:         snap,
		AlreadyCompleted: true,
	}, nil
}

func (f *FinalizationEngine) activateNext(ctx context.Context, a *attempt, kind models.Kind, now time.Time) string {
	next, err := f.Store.ActivateEarliestScheduled(ctx, kind, now)
	switch {
	case apperrors.IsConflict(err):
		a.log.Info("next competition not activated", zap.String("reason", err.Error()))
		return ""
	case err != nil:
		a.log.Warn("failed to activate next competition, the reconciler will retry", zap.Error(err))
		return ""
	case next == nil:
		a.log.Info("no scheduled competition to activate", zap.String("kind", string(kind)))
		return ""
	}
	a.log.Info("activated next competition", zap.String("next_competition_id", next.ID))
	return next.ID
}

func (f *FinalizationEngine) archive(ctx context.Context, a *attempt, snap *models.Snapshot) string {
	if f.Archive == nil {
		return ""
	}
	url, err := f.Archive.Archive(ctx, snap)
	if err != nil {
		a.log.Warn("snapshot archive failed", zap.String("snapshot_id", snap.ID), zap.Error(err))
		return ""
	}
	return url
}

// record appends a row to the attempt log. Failures are logged and ignored.
func (f *FinalizationEngine) record(ctx context.Context, a *attempt, phase models.AttemptPhase, details map[string]any, cause error) {
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), attemptLogTimeout)
	defer cancel()

	row := &models.FinalizationAttempt{
		AttemptID:     a.id,
		CompetitionID: a.competitionID,
		Trigger:       a.trigger,
		Phase:         phase,
		Step:          a.step,
		Success:       phase == models.PhaseSucceeded,
		Details:       details,
		CreatedAt:     f.Clock.Now(),
	}
	if cause != nil {
		row.ErrorCode = string(apperrors.CodeOf(cause))
		row.ErrorDetail = cause.Error()
		row.Details = map[string]any{
			"kind":      string(apperrors.KindOf(cause)),
			"retryable": apperrors.IsRetryable(cause),
		}
	}

	if err := f.Store.AppendAttempt(logCtx, row); err != nil {
		a.log.Warn("failed to record finalization attempt", zap.String("phase", string(phase)), zap.Error(err))
	}
}

func (f *FinalizationEngine) raiseInvariant(ctx context.Context, a *attempt, cause error) {
	if f.Alerts == nil {
		return
	}
	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), attemptLogTimeout)
	defer cancel()

	_, err := f.Alerts.Raise(alertCtx, models.Alert{
		Type:     models.AlertInvariantViolation,
		Severity: models.SeverityCritical,
		Message:  "finalization of competition " + a.competitionID + " violated an invariant: " + cause.Error(),
		Metadata: map[string]any{
			"competition_id": a.competitionID,
			"attempt_id":     a.id,
			"step":           a.step,
			"code":           string(apperrors.CodeOf(cause)),
		},
	})
	if err != nil {
		a.log.Warn("failed to raise invariant alert", zap.Error(err))
	}
}
