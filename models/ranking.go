package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RankingEntry is one row of a published leaderboard. Positions within a
// period are dense and start at 1.
type RankingEntry struct {
	ID            string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	PeriodKey     string          `json:"period_key" gorm:"type:varchar(80);not null;uniqueIndex:ux_ranking_period_position,priority:1;uniqueIndex:ux_ranking_period_user,priority:1"`
	Position      int             `json:"position" gorm:"not null;uniqueIndex:ux_ranking_period_position,priority:2"`
	UserID        string          `json:"user_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_ranking_period_user,priority:2"`
	Score         decimal.Decimal `json:"score" gorm:"type:numeric(14,2);not null"`
	PrizeAmount   decimal.Decimal `json:"prize_amount" gorm:"type:numeric(12,2);not null;default:0"`
	CompetitionID *string         `json:"competition_id,omitempty" gorm:"type:varchar(36);index"`
	SnapshotID    *string         `json:"snapshot_id,omitempty" gorm:"type:varchar(36);index"`
	CreatedAt     time.Time       `json:"created_at" gorm:"autoCreateTime"`
}

// Snapshot is the immutable result of finalizing a competition.
type Snapshot struct {
	ID            string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CompetitionID string          `json:"competition_id" gorm:"type:varchar(36);not null;uniqueIndex"`
	Kind          Kind            `json:"kind" gorm:"type:varchar(16);not null;index"`
	PeriodKey     string          `json:"period_key" gorm:"type:varchar(80);not null;index"`
	EntryCount    int             `json:"entry_count" gorm:"not null"`
	TotalScore    decimal.Decimal `json:"total_score" gorm:"type:numeric(16,2);not null"`
	TotalPrize    decimal.Decimal `json:"total_prize" gorm:"type:numeric(14,2);not null"`
	CreatedAt     time.Time       `json:"created_at" gorm:"autoCreateTime"`

	Entries []RankingEntry `json:"entries,omitempty" gorm:"foreignKey:SnapshotID"`
}

func (Snapshot) TableName() string { return "ranking_snapshots" }
