package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionAbandoned  SessionStatus = "abandoned"
)

// GameSession records a single gameplay session
type GameSession struct {
	ID            string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID        string          `json:"user_id" gorm:"type:varchar(64);not null;index"`
	CompetitionID *string         `json:"competition_id,omitempty" gorm:"type:varchar(36);index"` // nil = casual session
	Status        SessionStatus   `json:"status" gorm:"type:varchar(16);not null;default:'in_progress';index"`
	Score         decimal.Decimal `json:"score" gorm:"type:numeric(14,2);not null;default:0"`
	Counted       bool            `json:"counted" gorm:"not null;default:false"` // added to a participation score
	StartedAt     time.Time       `json:"started_at" gorm:"not null"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}
