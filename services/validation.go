package services

import (
	"context"
	"time"

	"competition-engine/apperrors"
	"competition-engine/models"
	"competition-engine/store"
)

// ValidationService answers whether a lifecycle action is legal right now.
// It only reads.
type ValidationService struct {
	Store store.Gateway
	Clock Clock
}

func NewValidationService(gw store.Gateway, clock Clock) *ValidationService {
	return &ValidationService{Store: gw, Clock: clock}
}

// ValidateWindow rejects empty or inverted windows.
func (v *ValidationService) ValidateWindow(kind models.Kind, startAt, endAt time.Time) error {
	if !kind.Valid() {
		return apperrors.Validation(apperrors.CodeInvalidKind, "unknown competition kind %q", kind)
	}
	if !endAt.After(startAt) {
		return apperrors.Validation(apperrors.CodeInvalidWindow, "window must end after it starts")
	}
	return nil
}

// ValidateOverlap reports whether a weekly window intersects another open
// weekly competition. Daily competitions never overlap.
func (v *ValidationService) ValidateOverlap(ctx context.Context, kind models.Kind, startAt, endAt time.Time, excludingID string) (bool, error) {
	if !kind.ExclusiveWindows() {
		return false, nil
	}
	found, err := v.Store.FindOverlappingWeekly(ctx, startAt, endAt, excludingID)
	if err != nil {
		return false, err
	}
	return len(found) > 0, nil
}

// ValidateJoinable checks status, window and capacity.
func (v *ValidationService) ValidateJoinable(ctx context.Context, c *models.Competition) error {
	now := v.Clock.Now()

	if c.Status != models.StatusActive {
		return apperrors.Validation(apperrors.CodeNotActive, "competition %s is %s", c.ID, c.Status)
	}
	if !c.HasStarted(now) {
		return apperrors.Validation(apperrors.CodeNotStarted, "competition %s starts at %s", c.ID, c.StartAt.Format(time.RFC3339))
	}
	if c.HasExpired(now) {
		return apperrors.Validation(apperrors.CodeExpired, "competition %s ended at %s", c.ID, c.EndAt.Format(time.RFC3339))
	}
	if c.MaxParticipants != nil {
		n, err := v.Store.CountParticipants(ctx, c.ID)
		if err != nil {
			return err
		}
		if c.IsFull(n) {
			return apperrors.Validation(apperrors.CodeFull, "competition %s is full", c.ID)
		}
	}
	return nil
}

func (v *ValidationService) ValidateNotDuplicateParticipant(ctx context.Context, competitionID, userID string) error {
	_, err := v.Store.GetParticipation(ctx, competitionID, userID)
	switch {
	case err == nil:
		return apperrors.Validation(apperrors.CodeAlreadyJoined, "user %s already joined competition %s", userID, competitionID)
	case apperrors.IsNotFound(err):
		return nil
	default:
		return err
	}
}

// ValidateFinalizable checks that c may be finalized now. Completed
// competitions are not an error; finalization returns their snapshot.
func (v *ValidationService) ValidateFinalizable(c *models.Competition) error {
	switch c.Status {
	case models.StatusActive, models.StatusEnded:
	case models.StatusCompleted:
		return nil
	default:
		return apperrors.Validation(apperrors.CodeNotFinalizable, "competition %s is %s", c.ID, c.Status)
	}
	if v.Clock.Now().Before(c.EndAt) {
		return apperrors.Validation(apperrors.CodeNotFinalizable,
			"competition %s runs until %s", c.ID, c.EndAt.Format(time.RFC3339))
	}
	return nil
}

// ValidateActivatable checks that c may become active now.
func (v *ValidationService) ValidateActivatable(c *models.Competition) error {
	now := v.Clock.Now()
	if c.Status != models.StatusScheduled {
		return apperrors.Validation(apperrors.CodeNotActivatable, "competition %s is %s", c.ID, c.Status)
	}
	if !c.HasStarted(now) {
		return apperrors.Validation(apperrors.CodeNotStarted, "competition %s starts at %s", c.ID, c.StartAt.Format(time.RFC3339))
	}
	if c.HasExpired(now) {
		return apperrors.Validation(apperrors.CodeExpired, "competition %s ended at %s", c.ID, c.EndAt.Format(time.RFC3339))
	}
	return nil
}
