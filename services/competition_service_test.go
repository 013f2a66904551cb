package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"competition-engine/apperrors"
	"competition-engine/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCompetitionWeeklyOverlapScenario(t *testing.T) {
	h := newHarness(t, day(1).Add(-24*time.Hour))
	ctx := context.Background()

	w1, err := h.service.CreateCompetition(ctx, CreateCompetitionInput{
		Kind: "weekly", Title: "June Week 1", StartAt: "2025-06-01", EndAt: "2025-06-07", PrizePool: "175.00",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusScheduled, w1.Status)
	assert.True(t, strings.HasPrefix(w1.Slug, "weekly-june-week-1-2025-06-01-"))
	assert.True(t, w1.PrizePool.Valid)

	_, err = h.service.CreateCompetition(ctx, CreateCompetitionInput{
		Kind: "weekly", Title: "Clash", StartAt: "2025-06-05", EndAt: "2025-06-10",
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeOverlap))
	assert.Contains(t, err.Error(), "overlap an existing weekly competition")

	w2, err := h.service.CreateCompetition(ctx, CreateCompetitionInput{
		Kind: "weekly", Title: "June Week 2", StartAt: "2025-06-08", EndAt: "2025-06-14",
	})
	require.NoError(t, err)
	assert.Equal(t, endOfDay(14), w2.EndAt)
}

func TestCreateCompetitionDailySameDateAllowed(t *testing.T) {
	h := newHarness(t, day(1))
	ctx := context.Background()

	for _, title := range []string{"Morning", "Evening"} {
		c, err := h.service.CreateCompetition(ctx, CreateCompetitionInput{Kind: "daily", Title: title, StartAt: "2025-06-03"})
		require.NoError(t, err)
		assert.Equal(t, endOfDay(3), c.EndAt)
	}
}

func TestCreateCompetitionStatusFromClock(t *testing.T) {
	h := newHarness(t, day(3).Add(6*time.Hour))
	ctx := context.Background()

	open, err := h.service.CreateCompetition(ctx, CreateCompetitionInput{Kind: "daily", Title: "Today", StartAt: "2025-06-03"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, open.Status)

	// The active slot is taken, so the second one waits.
	queued, err := h.service.CreateCompetition(ctx, CreateCompetitionInput{Kind: "daily", Title: "Also today", StartAt: "2025-06-03"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusScheduled, queued.Status)
	assert.Equal(t, models.StatusScheduled, h.status(t, queued.ID))
	assert.Equal(t, models.StatusActive, h.status(t, open.ID))

	_, err = h.service.CreateCompetition(ctx, CreateCompetitionInput{Kind: "daily", Title: "Yesterday", StartAt: "2025-06-02"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeExpired))
}

func TestCreateCompetitionRejectsBadInput(t *testing.T) {
	h := newHarness(t, day(1))
	ctx := context.Background()
	zero := 0

	cases := map[string]struct {
		in   CreateCompetitionInput
		code apperrors.Code
	}{
		"kind":         {CreateCompetitionInput{Kind: "monthly", Title: "x", StartAt: "2025-06-03"}, apperrors.CodeInvalidKind},
		"title":        {CreateCompetitionInput{Kind: "daily", Title: "  ", StartAt: "2025-06-03"}, apperrors.CodeInvalidInput},
		"window":       {CreateCompetitionInput{Kind: "weekly", Title: "x", StartAt: "2025-06-09", EndAt: "2025-06-03"}, apperrors.CodeInvalidWindow},
		"date":         {CreateCompetitionInput{Kind: "daily", Title: "x", StartAt: "soon"}, apperrors.CodeInvalidWindow},
		"cap":          {CreateCompetitionInput{Kind: "daily", Title: "x", StartAt: "2025-06-03", MaxParticipants: &zero}, apperrors.CodeInvalidInput},
		"daily prize":  {CreateCompetitionInput{Kind: "daily", Title: "x", StartAt: "2025-06-03", PrizePool: "10"}, apperrors.CodeInvalidInput},
		"bad prize":    {CreateCompetitionInput{Kind: "weekly", Title: "x", StartAt: "2025-06-03", EndAt: "2025-06-09", PrizePool: "-1"}, apperrors.CodeInvalidInput},
		"prize format": {CreateCompetitionInput{Kind: "weekly", Title: "x", StartAt: "2025-06-03", EndAt: "2025-06-09", PrizePool: "ten"}, apperrors.CodeInvalidInput},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.service.CreateCompetition(ctx, tc.in)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
			assert.Equal(t, tc.code, apperrors.CodeOf(err))
		})
	}
	assert.Zero(t, h.count(t, &models.Competition{}, ""))
}

func TestJoinCompetition(t *testing.T) {
	h := newHarness(t, day(3))
	ctx := context.Background()
	one := 1

	c := h.create(t, models.KindDaily, models.StatusActive, day(3), endOfDay(3))
	require.NoError(t, h.gw.DB.Model(c).Update("max_participants", one).Error)

	p, err := h.service.JoinCompetition(ctx, c.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentNotEligible, p.PaymentStatus)
	assert.Equal(t, day(3), p.JoinedAt)

	_, err = h.service.JoinCompetition(ctx, c.ID, "u1")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeFull))

	_, err = h.service.JoinCompetition(ctx, c.ID, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidInput))

	_, err = h.service.JoinCompetition(ctx, "nope", "u2")
	assert.True(t, apperrors.IsNotFound(err))

	w := h.create(t, models.KindWeekly, models.StatusActive, day(1), endOfDay(7))
	_, err = h.service.JoinCompetition(ctx, w.ID, "u1")
	require.NoError(t, err)
	_, err = h.service.JoinCompetition(ctx, w.ID, "u1")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeAlreadyJoined))

	got, err := h.service.GetCompetition(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ParticipantCount)
}

func TestForceActivate(t *testing.T) {
	h := newHarness(t, day(8))
	ctx := context.Background()

	current := h.create(t, models.KindWeekly, models.StatusActive, day(1), endOfDay(7))
	next := h.create(t, models.KindWeekly, models.StatusScheduled, day(8), endOfDay(14))

	_, err := h.service.ForceActivate(ctx, next.ID)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeActiveCompetitionExists))
	assert.Contains(t, err.Error(), "finalize it first")

	_, err = h.service.ForceFinalize(ctx, current.ID)
	require.NoError(t, err)
	// Finalization already promoted it.
	assert.Equal(t, models.StatusActive, h.status(t, next.ID))

	_, err = h.service.ForceActivate(ctx, next.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotActivatable))

	later := h.create(t, models.KindDaily, models.StatusScheduled, day(8), endOfDay(8))
	activated, err := h.service.ForceActivate(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, activated.Status)
}

func TestSessionScoringFeedsLeaderboard(t *testing.T) {
	h := newHarness(t, day(3).Add(time.Hour))
	ctx := context.Background()

	c := h.create(t, models.KindWeekly, models.StatusActive, day(1), endOfDay(7))
	_, err := h.service.JoinCompetition(ctx, c.ID, "u1")
	require.NoError(t, err)
	_, err = h.service.JoinCompetition(ctx, c.ID, "u2")
	require.NoError(t, err)

	play := func(user string, score int64) {
		s, err := h.service.StartSession(ctx, user, &c.ID)
		require.NoError(t, err)
		out, err := h.service.CompleteSession(ctx, s.ID, user, decimal.NewFromInt(score))
		require.NoError(t, err)
		assert.True(t, out.Counted)
	}
	play("u1", 40)
	play("u2", 70)
	play("u1", 50)

	board, err := h.service.Leaderboard(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "u1", board[0].UserID)
	assert.True(t, decimal.NewFromInt(90).Equal(board[0].Score))

	s, err := h.service.StartSession(ctx, "u3", &c.ID)
	require.NoError(t, err)
	_, err = h.service.CompleteSession(ctx, s.ID, "u1", decimal.NewFromInt(10))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeSessionNotFound))
	_, err = h.service.CompleteSession(ctx, s.ID, "", decimal.NewFromInt(10))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidInput))

	out, err := h.service.CompleteSession(ctx, s.ID, "u3", decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.False(t, out.Counted)

	_, err = h.service.CompleteSession(ctx, s.ID, "u3", decimal.NewFromInt(-1))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidInput))

	live, err := h.service.PublishLeaderboard(ctx, "weekly")
	require.NoError(t, err)
	assert.Equal(t, "2025-W23", live.PeriodKey)
	require.Len(t, live.Entries, 2)

	current, err := h.service.CurrentLeaderboard(ctx, "weekly")
	require.NoError(t, err)
	assert.Len(t, current.Entries, 2)

	daily, err := h.service.CurrentLeaderboard(ctx, "daily")
	require.NoError(t, err)
	assert.Empty(t, daily.Entries)
}

func TestZeroScoreSessionKeepsTieBreak(t *testing.T) {
	h := newHarness(t, day(2).Add(time.Hour))
	ctx := context.Background()

	c := h.create(t, models.KindWeekly, models.StatusActive, day(1), endOfDay(7))
	for _, u := range []string{"A", "B"} {
		_, err := h.service.JoinCompetition(ctx, c.ID, u)
		require.NoError(t, err)
	}

	play := func(user string, score int64, at time.Time) {
		h.clock.Set(at)
		s, err := h.service.StartSession(ctx, user, &c.ID)
		require.NoError(t, err)
		out, err := h.service.CompleteSession(ctx, s.ID, user, decimal.NewFromInt(score))
		require.NoError(t, err)
		require.True(t, out.Counted)
	}
	play("A", 100, day(2).Add(time.Hour))
	play("B", 100, day(3).Add(time.Hour))
	play("A", 0, day(4).Add(time.Hour))

	board, err := h.service.Leaderboard(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "A", board[0].UserID)
	assert.Equal(t, "B", board[1].UserID)
	assert.True(t, board[0].Score.Equal(board[1].Score))
}

func TestMarkPrizePaidAfterFinalization(t *testing.T) {
	h := newHarness(t, day(8))
	ctx := context.Background()

	c := h.create(t, models.KindWeekly, models.StatusEnded, day(1), endOfDay(7))
	h.enter(t, c, "u1", "10", day(2))

	_, err := h.service.MarkPrizePaid(ctx, c.ID, "u1", "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidInput))

	_, err = h.service.ForceFinalize(ctx, c.ID)
	require.NoError(t, err)

	p, err := h.service.MarkPrizePaid(ctx, c.ID, "u1", "payout-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, p.PaymentStatus)
	assert.Equal(t, "payout-1", p.PayoutReference)

	attempts, err := h.service.ListAttempts(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, attempts, 2)

	_, err = h.service.ListAttempts(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestListCompetitionsFilters(t *testing.T) {
	h := newHarness(t, day(3))
	ctx := context.Background()

	h.create(t, models.KindDaily, models.StatusActive, day(3), endOfDay(3))
	h.create(t, models.KindWeekly, models.StatusScheduled, day(8), endOfDay(14))

	all, err := h.service.ListCompetitions(ctx, ListCompetitionsInput{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	weekly, err := h.service.ListCompetitions(ctx, ListCompetitionsInput{Kind: "weekly"})
	require.NoError(t, err)
	require.Len(t, weekly, 1)

	open, err := h.service.ListCompetitions(ctx, ListCompetitionsInput{Status: "active,ended"})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, models.KindDaily, open[0].Kind)

	none, err := h.service.ListCompetitions(ctx, ListCompetitionsInput{Status: "completed"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	_, err = h.service.ListCompetitions(ctx, ListCompetitionsInput{Status: "paused"})
	assert.True(t, apperrors.IsValidation(err))
}
