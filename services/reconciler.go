package services

import (
	"context"
	"time"

	"competition-engine/apperrors"
	"competition-engine/logger"
	"competition-engine/models"
	"competition-engine/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

const (
	defaultItemTimeout = 20 * time.Second

	stepFinalize = "finalize"
)

// ItemError is a failure on one competition during a tick.
type ItemError struct {
	Step          string         `json:"step"`
	CompetitionID string         `json:"competition_id,omitempty"`
	Kind          models.Kind    `json:"kind"`
	ErrorKind     apperrors.Kind `json:"error_kind,omitempty"`
	Code          apperrors.Code `json:"code,omitempty"`
	Message       string         `json:"message"`
	Err           error          `json:"-"`
}

// TickReport summarizes one reconciliation tick. The slices hold competition
// ids.
type TickReport struct {
	TickID     string      `json:"tick_id"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Ended      []string    `json:"ended"`
	Finalized  []string    `json:"finalized"`
	Activated  []string    `json:"activated"`
	Missed     []string    `json:"missed"`
	Skipped    []string    `json:"skipped"`
	Errors     []ItemError `json:"errors"`
}

func (r *TickReport) Clean() bool { return len(r.Errors) == 0 }

// Reconciler drives every competition whose stored status lags behind the
// clock. Running two ticks at once is safe; the store decides who wins.
type Reconciler struct {
	Store       store.Gateway
	Finalizer   *FinalizationEngine
	Clock       Clock
	ItemTimeout time.Duration
	Metrics     *Metrics
}

func NewReconciler(gw store.Gateway, finalizer *FinalizationEngine, clock Clock, itemTimeout time.Duration) *Reconciler {
	if itemTimeout <= 0 {
		itemTimeout = defaultItemTimeout
	}
	return &Reconciler{Store: gw, Finalizer: finalizer, Clock: clock, ItemTimeout: itemTimeout}
}

// Tick runs one pass over every kind: end expired actives, finalize ended
// competitions, then activate the next scheduled competition where a kind
// has none active. Errors are collected, never returned.
func (r *Reconciler) Tick(ctx context.Context) *TickReport {
	report := &TickReport{TickID: gonanoid.Must(), StartedAt: r.Clock.Now()}
	log := logger.With(zap.String("tick_id", report.TickID))

	for _, kind := range models.Kinds {
		if ctx.Err() != nil {
			log.Warn("reconciliation tick cancelled", zap.Error(ctx.Err()))
			break
		}
		r.endExpired(ctx, log, kind, report)
		r.finalizeEnded(ctx, log, kind, report)
		r.activateNext(ctx, log, kind, report)
	}

	report.FinishedAt = r.Clock.Now()
	r.Metrics.tick(report.Clean())

	fields := []zap.Field{
		zap.Int("ended", len(report.Ended)),
		zap.Int("finalized", len(report.Finalized)),
		zap.Int("activated", len(report.Activated)),
		zap.Int("missed", len(report.Missed)),
		zap.Int("errors", len(report.Errors)),
	}
	if report.Clean() {
		log.Debug("reconciliation tick finished", fields...)
	} else {
		log.Warn("reconciliation tick finished with errors", fields...)
	}
	return report
}

func (r *Reconciler) itemContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.ItemTimeout)
}

func (r *Reconciler) fail(log *zap.Logger, report *TickReport, step string, kind models.Kind, competitionID string, err error) {
	report.Errors = append(report.Errors, ItemError{
		Step:          step,
		CompetitionID: competitionID,
		Kind:          kind,
		ErrorKind:     apperrors.KindOf(err),
		Code:          apperrors.CodeOf(err),
		Message:       err.Error(),
		Err:           err,
	})
	r.Metrics.item(step, "error")
	log.Warn("reconciliation step failed",
		zap.String("step", step),
		zap.String("kind", string(kind)),
		zap.String("competition_id", competitionID),
		zap.Bool("retryable", apperrors.IsRetryable(err)),
		zap.Error(err))
}

func (r *Reconciler) endExpired(ctx context.Context, log *zap.Logger, kind models.Kind, report *TickReport) {
	now := r.Clock.Now()

	listCtx, cancel := r.itemContext(ctx)
	expired, err := r.Store.ListCompetitions(listCtx, store.CompetitionFilter{
		Kind:        kind,
		Statuses:    []models.Status{models.StatusActive, models.StatusScheduled},
		EndedBefore: now,
	})
	cancel()
	if err != nil {
		r.fail(log, report, stepEnd, kind, "", err)
		return
	}

	for _, c := range expired {
		if c.Status == models.StatusScheduled {
			// Never activated before its window closed. Left for an operator.
			report.Missed = append(report.Missed, c.ID)
			r.Metrics.item(stepEnd, "missed")
			log.Warn("scheduled competition expired without being activated",
				zap.String("competition_id", c.ID),
				zap.String("kind", string(kind)),
				zap.Time("end_at", c.EndAt))
			continue
		}

		itemCtx, cancel := r.itemContext(ctx)
		moved, err := r.Store.TransitionStatus(itemCtx, c.ID, models.StatusActive, models.StatusEnded, now)
		cancel()
		switch {
		case err != nil:
			r.fail(log, report, stepEnd, kind, c.ID, err)
		case moved:
			report.Ended = append(report.Ended, c.ID)
			r.Metrics.item(stepEnd, "ok")
			log.Info("competition ended", zap.String("competition_id", c.ID), zap.String("kind", string(kind)))
		default:
			report.Skipped = append(report.Skipped, c.ID)
			r.Metrics.item(stepEnd, "skipped")
		}
	}
}

func (r *Reconciler) finalizeEnded(ctx context.Context, log *zap.Logger, kind models.Kind, report *TickReport) {
	listCtx, cancel := r.itemContext(ctx)
	ended, err := r.Store.ListCompetitions(listCtx, store.CompetitionFilter{
		Kind:     kind,
		Statuses: []models.Status{models.StatusEnded},
	})
	cancel()
	if err != nil {
		r.fail(log, report, stepFinalize, kind, "", err)
		return
	}

	for _, c := range ended {
		itemCtx, cancel := r.itemContext(ctx)
		res, err := r.Finalizer.Finalize(itemCtx, c.ID, models.TriggerScheduler)
		cancel()
		switch {
		case apperrors.IsConflict(err):
			report.Skipped = append(report.Skipped, c.ID)
			r.Metrics.item(stepFinalize, "skipped")
		case err != nil:
			r.fail(log, report, stepFinalize, kind, c.ID, err)
		case res.AlreadyCompleted:
			report.Skipped = append(report.Skipped, c.ID)
			r.Metrics.item(stepFinalize, "skipped")
		default:
			report.Finalized = append(report.Finalized, c.ID)
			r.Metrics.item(stepFinalize, "ok")
			if res.ActivatedCompetitionID != "" {
				report.Activated = append(report.Activated, res.ActivatedCompetitionID)
			}
		}
	}
}

func (r *Reconciler) activateNext(ctx context.Context, log *zap.Logger, kind models.Kind, report *TickReport) {
	itemCtx, cancel := r.itemContext(ctx)
	defer cancel()

	active, err := r.Store.ListCompetitions(itemCtx, store.CompetitionFilter{
		Kind:     kind,
		Statuses: []models.Status{models.StatusActive},
		Limit:    1,
	})
	if err != nil {
		r.fail(log, report, stepActivate, kind, "", err)
		return
	}
	if len(active) > 0 {
		return
	}

	next, err := r.Store.ActivateEarliestScheduled(itemCtx, kind, r.Clock.Now())
	switch {
	case apperrors.IsConflict(err):
		r.Metrics.item(stepActivate, "skipped")
	case err != nil:
		r.fail(log, report, stepActivate, kind, "", err)
	case next != nil:
		report.Activated = append(report.Activated, next.ID)
		r.Metrics.item(stepActivate, "ok")
		log.Info("competition activated", zap.String("competition_id", next.ID), zap.String("kind", string(kind)))
	}
}
