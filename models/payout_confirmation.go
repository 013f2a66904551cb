// models/payout_confirmation.go
package models

import "time"

// PayoutConfirmation mirrors confirmed payouts from the payout service.
// Table name: payout_confirmations
type PayoutConfirmation struct {
	Reference     string    `gorm:"primaryKey;type:varchar(128)" json:"reference"`
	CompetitionID string    `gorm:"type:varchar(36);not null;index" json:"competition_id"`
	UserID        string    `gorm:"type:varchar(64);not null;index" json:"user_id"`
	Amount        string    `gorm:"type:varchar(32);not null" json:"amount"`
	PaidAt        time.Time `gorm:"not null" json:"paid_at"`
	Applied       bool      `gorm:"not null;default:false" json:"-"`
	UpdatedAt     time.Time `gorm:"not null" json:"updated_at"`
}
