package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ScoreAccumulator is the running score of a user for a kind. Finalizing a
// competition of that kind resets every accumulator of the kind to zero.
type ScoreAccumulator struct {
	Kind        Kind            `json:"kind" gorm:"primaryKey;type:varchar(16)"`
	UserID      string          `json:"user_id" gorm:"primaryKey;type:varchar(64)"`
	PeriodScore decimal.Decimal `json:"period_score" gorm:"type:numeric(16,2);not null;default:0"`
	UpdatedAt   time.Time       `json:"updated_at" gorm:"not null"`
}
