package models

import (
	"time"

	"gorm.io/datatypes"
)

type Trigger string

const (
	TriggerScheduler Trigger = "scheduler"
	TriggerManual    Trigger = "manual"
)

type AttemptPhase string

const (
	PhaseStarted   AttemptPhase = "started"
	PhaseSucceeded AttemptPhase = "succeeded"
	PhaseFailed    AttemptPhase = "failed"
)

// FinalizationAttempt is an append-only log row. All rows of one attempt
// share AttemptID.
type FinalizationAttempt struct {
	ID            uint              `json:"id" gorm:"primaryKey;autoIncrement"`
	AttemptID     string            `json:"attempt_id" gorm:"type:varchar(32);not null;index"`
	CompetitionID string            `json:"competition_id" gorm:"type:varchar(36);not null;index"`
	Trigger       Trigger           `json:"trigger" gorm:"type:varchar(16);not null"`
	Phase         AttemptPhase      `json:"phase" gorm:"type:varchar(16);not null"`
	Step          string            `json:"step,omitempty" gorm:"type:varchar(32)"`
	Success       bool              `json:"success"`
	ErrorCode     string            `json:"error_code,omitempty" gorm:"type:varchar(64)"`
	ErrorDetail   string            `json:"error_detail,omitempty" gorm:"type:text"`
	Details       datatypes.JSONMap `json:"details,omitempty"`
	CreatedAt     time.Time         `json:"created_at" gorm:"not null;index"`
}
