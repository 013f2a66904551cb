package store

import (
	"context"
	"errors"
	"strings"

	"competition-engine/apperrors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation    = "23505"
	pgExclusionViolation = "23P01"

	activePerKindIndex = "ux_competitions_one_active_per_kind"
)

func pgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// isUniqueViolation covers Postgres, and SQLite through gorm's translator.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	if pgErr, ok := pgError(err); ok {
		return pgErr.Code == pgUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isExclusionViolation(err error) bool {
	pgErr, ok := pgError(err)
	return ok && pgErr.Code == pgExclusionViolation
}

// isActivePerKindViolation reports whether err comes from the partial unique
// index on active competitions. SQLite does not name the index, so any unique
// violation on a competition status write counts.
func isActivePerKindViolation(err error) bool {
	if pgErr, ok := pgError(err); ok {
		return pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == activePerKindIndex
	}
	return isUniqueViolation(err)
}

// translate turns a driver error into a typed error. Errors that are
// already typed pass through untouched.
func translate(err error, what string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apperrors.Transient(apperrors.CodeTimeout, err, "%s timed out", what)
	case isExclusionViolation(err):
		return &apperrors.Error{
			Kind:    apperrors.KindValidation,
			Code:    apperrors.CodeOverlap,
			Message: "competition window overlaps an existing weekly competition",
			Err:     err,
		}
	case isUniqueViolation(err):
		return &apperrors.Error{
			Kind:    apperrors.KindConflict,
			Code:    apperrors.CodeDuplicate,
			Message: "duplicate key while trying to " + what,
			Err:     err,
		}
	}
	return apperrors.Transient(apperrors.CodeStoreUnavailable, err, "failed to %s", what)
}
