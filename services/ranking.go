package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"competition-engine/apperrors"
	"competition-engine/models"
	"competition-engine/store"

	"github.com/shopspring/decimal"
)

// Scorer is one member of a ranking population.
type Scorer struct {
	UserID     string
	Score      decimal.Decimal
	AchievedAt time.Time
}

// Population yields the scorers a ranking is computed over.
type Population interface {
	Scorers(ctx context.Context) ([]Scorer, error)
}

// CompetitionPopulation is the participants of one competition.
type CompetitionPopulation struct {
	Store         store.Gateway
	CompetitionID string
}

func (p CompetitionPopulation) Scorers(ctx context.Context) ([]Scorer, error) {
	participants, err := p.Store.ListScoringParticipants(ctx, p.CompetitionID)
	if err != nil {
		return nil, err
	}
	out := make([]Scorer, 0, len(participants))
	for _, pt := range participants {
		s := Scorer{UserID: pt.UserID, Score: pt.Score}
		if pt.ScoreAchievedAt != nil {
			s.AchievedAt = *pt.ScoreAchievedAt
		}
		out = append(out, s)
	}
	return out, nil
}

// AccumulatorPopulation is every user with a running score for a kind.
type AccumulatorPopulation struct {
	Store store.Gateway
	Kind  models.Kind
}

func (p AccumulatorPopulation) Scorers(ctx context.Context) ([]Scorer, error) {
	accs, err := p.Store.ListAccumulators(ctx, p.Kind)
	if err != nil {
		return nil, err
	}
	out := make([]Scorer, 0, len(accs))
	for _, a := range accs {
		out = append(out, Scorer{UserID: a.UserID, Score: a.PeriodScore, AchievedAt: a.UpdatedAt})
	}
	return out, nil
}

// ranksBefore orders by score descending, then by who reached the score
// first, then by user id.
func ranksBefore(a, b Scorer) bool {
	if c := a.Score.Cmp(b.Score); c != 0 {
		return c > 0
	}
	if !a.AchievedAt.Equal(b.AchievedAt) {
		return a.AchievedAt.Before(b.AchievedAt)
	}
	return a.UserID < b.UserID
}

// Rank orders the scorers with a positive score and assigns positions
// 1..N and prizes from table. The result depends only on the input values,
// never on their order.
func Rank(scorers []Scorer, table PrizeTable, periodKey string) ([]models.RankingEntry, error) {
	ranked := make([]Scorer, 0, len(scorers))
	for _, s := range scorers {
		if s.Score.IsPositive() {
			ranked = append(ranked, s)
		}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranksBefore(ranked[i], ranked[j]) })

	entries := make([]models.RankingEntry, len(ranked))
	for i, s := range ranked {
		position := i + 1
		entries[i] = models.RankingEntry{
			PeriodKey:   periodKey,
			Position:    position,
			UserID:      s.UserID,
			Score:       s.Score,
			PrizeAmount: table.PrizeFor(position),
		}
	}

	if err := VerifyRanking(entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// VerifyRanking checks that positions are exactly 1..N and that no user
// appears twice.
func VerifyRanking(entries []models.RankingEntry) error {
	seenPos := make(map[int]bool, len(entries))
	seenUser := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seenPos[e.Position] {
			return apperrors.Invariant(apperrors.CodeDuplicatePositions, "position %d is assigned twice", e.Position)
		}
		if seenUser[e.UserID] {
			return apperrors.Invariant(apperrors.CodeDuplicatePositions, "user %s is ranked twice", e.UserID)
		}
		seenPos[e.Position] = true
		seenUser[e.UserID] = true
	}
	for pos := 1; pos <= len(entries); pos++ {
		if !seenPos[pos] {
			return apperrors.Invariant(apperrors.CodePositionGap, "position %d is missing from a ranking of %d", pos, len(entries))
		}
	}
	return nil
}

// RankingEngine computes rankings and is the only writer of ranking entries
// outside of finalization.
type RankingEngine struct {
	Store  store.Gateway
	Prizes PrizeTables
	Clock  Clock
	Loc    *time.Location
}

func NewRankingEngine(gw store.Gateway, prizes PrizeTables, clock Clock, loc *time.Location) *RankingEngine {
	if loc == nil {
		loc = time.UTC
	}
	return &RankingEngine{Store: gw, Prizes: prizes, Clock: clock, Loc: loc}
}

// ComputeRanking ranks population for periodKey without persisting anything.
func (e *RankingEngine) ComputeRanking(ctx context.Context, population Population, periodKey string, table PrizeTable) ([]models.RankingEntry, error) {
	scorers, err := population.Scorers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ranking population: %w", err)
	}
	return Rank(scorers, table, periodKey)
}

// CompetitionRanking is the final ranking a competition would get if it were
// finalized now.
func (e *RankingEngine) CompetitionRanking(ctx context.Context, c *models.Competition) ([]models.RankingEntry, error) {
	entries, err := e.ComputeRanking(ctx,
		CompetitionPopulation{Store: e.Store, CompetitionID: c.ID},
		c.PeriodKey(),
		e.Prizes.For(c.Kind),
	)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].CompetitionID = &c.ID
	}
	return entries, nil
}

// PreviewRanking returns the live ranking of a competition. Completed
// competitions return their snapshot; scheduled ones have no ranking yet.
func (e *RankingEngine) PreviewRanking(ctx context.Context, competitionID string) ([]models.RankingEntry, error) {
	c, err := e.Store.GetCompetition(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	switch c.Status {
	case models.StatusScheduled:
		return []models.RankingEntry{}, nil
	case models.StatusCompleted:
		snap, err := e.Store.GetSnapshot(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		return snap.Entries, nil
	}
	return e.CompetitionRanking(ctx, c)
}

// PublishRanking replaces the live leaderboard of kind for the period
// containing now. Live leaderboards carry no prizes.
func (e *RankingEngine) PublishRanking(ctx context.Context, kind models.Kind) (string, []models.RankingEntry, error) {
	if !kind.Valid() {
		return "", nil, apperrors.Validation(apperrors.CodeInvalidKind, "unknown competition kind %q", kind)
	}
	periodKey := PeriodKeyFor(kind, e.Clock.Now(), e.Loc)

	entries, err := e.ComputeRanking(ctx, AccumulatorPopulation{Store: e.Store, Kind: kind}, periodKey, PrizeTable{})
	if err != nil {
		return "", nil, err
	}
	if err := e.Store.ReplaceRankingEntries(ctx, periodKey, entries); err != nil {
		return "", nil, err
	}
	return periodKey, entries, nil
}
