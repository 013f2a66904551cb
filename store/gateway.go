// Package store is the only package that talks to the database. Every
// operation that must be atomic is a single Gateway call.
package store

import (
	"context"
	"time"

	"competition-engine/models"

	"github.com/shopspring/decimal"
)

type CompetitionFilter struct {
	Kind        models.Kind     // empty = any kind
	Statuses    []models.Status // empty = any status
	EndedBefore time.Time       // zero = no bound; otherwise end_at < EndedBefore
	Limit       int
}

// FinalizationCommit is everything CommitFinalization writes in one
// transaction.
type FinalizationCommit struct {
	Competition *models.Competition
	SnapshotID  string
	Entries     []models.RankingEntry
	Now         time.Time
}

type FinalizationOutcome struct {
	Snapshot    *models.Snapshot
	ScoresReset int64
}

// SessionOutcome describes what completing a game session changed.
type SessionOutcome struct {
	Session       *models.GameSession   `json:"session"`
	Participation *models.Participation `json:"participation,omitempty"` // nil when the score was not counted
	Counted       bool                  `json:"counted"`
	Reason        string                `json:"reason,omitempty"` // why the score was not counted
}

type ScoreTotals struct {
	Total decimal.Decimal
	Count int64
}

type PendingPayments struct {
	Count int64
	Total decimal.Decimal
}

type Gateway interface {
	Ping(ctx context.Context) error

	// Competitions
	GetCompetition(ctx context.Context, id string) (*models.Competition, error)
	ListCompetitions(ctx context.Context, filter CompetitionFilter) ([]models.Competition, error)
	// ListCompetitionsCached may serve results up to the cache TTL old. Never
	// use it to decide a mutation.
	ListCompetitionsCached(ctx context.Context, filter CompetitionFilter) ([]models.Competition, error)
	FindOverlappingWeekly(ctx context.Context, start, end time.Time, excludingID string) ([]models.Competition, error)
	CreateCompetition(ctx context.Context, c *models.Competition) error
	// TransitionStatus moves id from one status to the next only if it is
	// still in from. It reports whether this call made the change.
	TransitionStatus(ctx context.Context, id string, from, to models.Status, now time.Time) (bool, error)
	ActivateCompetition(ctx context.Context, id string, now time.Time) error
	// ActivateEarliestScheduled promotes the earliest scheduled competition of
	// kind whose window contains now. It returns nil when none qualifies.
	ActivateEarliestScheduled(ctx context.Context, kind models.Kind, now time.Time) (*models.Competition, error)
	LatestCompleted(ctx context.Context, kind models.Kind) (*models.Competition, error)

	// Participations
	GetParticipation(ctx context.Context, competitionID, userID string) (*models.Participation, error)
	CountParticipants(ctx context.Context, competitionID string) (int64, error)
	CreateParticipation(ctx context.Context, p *models.Participation) error
	ListScoringParticipants(ctx context.Context, competitionID string) ([]models.Participation, error)
	MarkPrizePaid(ctx context.Context, competitionID, userID, reference string, paidAt time.Time) (*models.Participation, error)

	// Scoring
	CreateGameSession(ctx context.Context, s *models.GameSession) error
	CompleteGameSession(ctx context.Context, sessionID, userID string, score decimal.Decimal, now time.Time) (*SessionOutcome, error)
	ListAccumulators(ctx context.Context, kind models.Kind) ([]models.ScoreAccumulator, error)

	// Rankings
	ReplaceRankingEntries(ctx context.Context, periodKey string, entries []models.RankingEntry) error
	ListRankingEntries(ctx context.Context, periodKey string) ([]models.RankingEntry, error)
	GetSnapshot(ctx context.Context, competitionID string) (*models.Snapshot, error)
	CommitFinalization(ctx context.Context, commit FinalizationCommit) (*FinalizationOutcome, error)

	// Finalization log
	AppendAttempt(ctx context.Context, a *models.FinalizationAttempt) error
	ListAttempts(ctx context.Context, competitionID string) ([]models.FinalizationAttempt, error)

	// Monitoring
	LiveScoreTotals(ctx context.Context, competitionID string) (ScoreTotals, error)
	CountOrphanedSessions(ctx context.Context) (int64, error)
	PendingPayments(ctx context.Context, finalizedBefore time.Time) (PendingPayments, error)
	// CreateAlertIfAbsent stores a unless an alert of the same type was
	// created at or after since. It reports whether a was stored.
	CreateAlertIfAbsent(ctx context.Context, a *models.Alert, since time.Time) (bool, error)
	ListAlerts(ctx context.Context, limit int) ([]models.Alert, error)

	// Payouts
	UpsertPayoutConfirmations(ctx context.Context, confirmations []models.PayoutConfirmation) error
	ApplyPayoutConfirmations(ctx context.Context) (int, error)
}
