package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentNotEligible PaymentStatus = "not_eligible"
	PaymentPending     PaymentStatus = "pending"
	PaymentPaid        PaymentStatus = "paid"
)

// PaymentStatusForPrize is pending for a positive prize and not eligible otherwise.
func PaymentStatusForPrize(prize decimal.Decimal) PaymentStatus {
	if prize.IsPositive() {
		return PaymentPending
	}
	return PaymentNotEligible
}

// Participation = a user's entry in one competition plus its outcome
type Participation struct {
	ID            string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CompetitionID string `json:"competition_id" gorm:"type:varchar(36);not null;uniqueIndex:ux_participations_competition_user,priority:1"`
	UserID        string `json:"user_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_participations_competition_user,priority:2;index"`

	// Scoring
	Score           decimal.Decimal `json:"score" gorm:"type:numeric(14,2);not null;default:0"`
	ScoreAchievedAt *time.Time      `json:"score_achieved_at,omitempty"`

	// Outcome, written once by finalization
	FinalPosition   *int            `json:"final_position,omitempty"`
	PrizeAmount     decimal.Decimal `json:"prize_amount" gorm:"type:numeric(12,2);not null;default:0"`
	PaymentStatus   PaymentStatus   `json:"payment_status" gorm:"type:varchar(16);not null;default:'not_eligible';index"`
	PayoutReference string          `json:"payout_reference,omitempty" gorm:"type:varchar(128)"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`

	JoinedAt  time.Time `json:"joined_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	Competition *Competition `json:"-" gorm:"foreignKey:CompetitionID;constraint:OnDelete:CASCADE"`
}
