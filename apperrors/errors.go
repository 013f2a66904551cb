// Package apperrors defines the typed errors shared by the store, the engines
// and the HTTP layer.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how a caller should react to it.
type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindTransient  Kind = "transient_store"
	KindInvariant  Kind = "invariant_violation"
	KindNotFound   Kind = "not_found"
)

// Code is a stable, machine-readable reason.
type Code string

const (
	// Validation
	CodeNotActive      Code = "NOT_ACTIVE"
	CodeNotStarted     Code = "NOT_STARTED"
	CodeExpired        Code = "EXPIRED"
	CodeFull           Code = "FULL"
	CodeAlreadyJoined  Code = "ALREADY_JOINED"
	CodeOverlap        Code = "OVERLAP"
	CodeInvalidWindow  Code = "INVALID_WINDOW"
	CodeInvalidKind    Code = "INVALID_KIND"
	CodeInvalidInput   Code = "INVALID_INPUT"
	CodeNotFinalizable Code = "NOT_FINALIZABLE"
	CodeNotActivatable Code = "NOT_ACTIVATABLE"
	CodeNotEligible    Code = "NOT_ELIGIBLE"

	// Conflict
	CodeActiveCompetitionExists Code = "ACTIVE_COMPETITION_EXISTS"
	CodeConcurrentFinalization  Code = "CONCURRENT_FINALIZATION"
	CodeStaleStatus             Code = "STALE_STATUS"
	CodeDuplicate               Code = "DUPLICATE"

	// Transient
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
	CodeTimeout          Code = "TIMEOUT"

	// Invariant
	CodeDuplicatePositions Code = "DUPLICATE_POSITIONS"
	CodePositionGap        Code = "POSITION_GAP"
	CodeRankingNotEmpty    Code = "RANKING_NOT_EMPTY"
	CodeSnapshotImmutable  Code = "SNAPSHOT_IMMUTABLE"
	CodeIllegalTransition  Code = "ILLEGAL_TRANSITION"

	// Not found
	CodeCompetitionNotFound   Code = "COMPETITION_NOT_FOUND"
	CodeParticipationNotFound Code = "PARTICIPATION_NOT_FOUND"
	CodeSessionNotFound       Code = "SESSION_NOT_FOUND"
	CodeSnapshotNotFound      Code = "SNAPSHOT_NOT_FOUND"
)

// Error is the single error type produced by this module.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether repeating the same call later may succeed
// without any change from the caller.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient
}

func newError(kind Kind, code Code, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validation(code Code, format string, args ...any) *Error {
	return newError(KindValidation, code, nil, format, args...)
}

func Conflict(code Code, format string, args ...any) *Error {
	return newError(KindConflict, code, nil, format, args...)
}

func Invariant(code Code, format string, args ...any) *Error {
	return newError(KindInvariant, code, nil, format, args...)
}

func NotFound(code Code, format string, args ...any) *Error {
	return newError(KindNotFound, code, nil, format, args...)
}

// Transient wraps a storage failure that is expected to clear up on its own.
func Transient(code Code, err error, format string, args ...any) *Error {
	return newError(KindTransient, code, err, format, args...)
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" when err is not a typed error.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// CodeOf returns the code of err, or "" when err is not a typed error.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsConflict(err error) bool   { return KindOf(err) == KindConflict }
func IsTransient(err error) bool  { return KindOf(err) == KindTransient }
func IsInvariant(err error) bool  { return KindOf(err) == KindInvariant }
func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }

// IsRetryable reports whether err is a typed error that may succeed on retry.
func IsRetryable(err error) bool {
	if e, ok := As(err); ok {
		return e.Retryable()
	}
	return false
}
