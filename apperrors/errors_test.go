package apperrors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelpersSeeThroughWrapping(t *testing.T) {
	base := Conflict(CodeActiveCompetitionExists, "daily already has an active competition")
	wrapped := fmt.Errorf("activate: %w", base)

	assert.True(t, IsConflict(wrapped))
	assert.False(t, IsValidation(wrapped))
	assert.Equal(t, CodeActiveCompetitionExists, CodeOf(wrapped))
	assert.True(t, HasCode(wrapped, CodeActiveCompetitionExists))

	e, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, "daily already has an active competition", e.Message)
}

func TestUntypedErrorsHaveNoKind(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, Kind(""), KindOf(err))
	assert.Equal(t, Code(""), CodeOf(err))
	assert.False(t, IsRetryable(err))
	assert.False(t, HasCode(nil, CodeFull))
}

func TestRetryableOnlyForTransient(t *testing.T) {
	transient := Transient(CodeTimeout, context.DeadlineExceeded, "load competition")
	assert.True(t, transient.Retryable())
	assert.True(t, IsRetryable(fmt.Errorf("tick: %w", transient)))
	assert.ErrorIs(t, transient, context.DeadlineExceeded)

	for _, err := range []*Error{
		Validation(CodeFull, "full"),
		Conflict(CodeConcurrentFinalization, "race"),
		Invariant(CodePositionGap, "gap"),
		NotFound(CodeCompetitionNotFound, "missing"),
	} {
		assert.False(t, err.Retryable(), err.Code)
	}
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "FULL: competition x is full", Validation(CodeFull, "competition %s is full", "x").Error())
	assert.Equal(t,
		"STORE_UNAVAILABLE: query: connection refused",
		Transient(CodeStoreUnavailable, errors.New("connection refused"), "query").Error(),
	)
}
