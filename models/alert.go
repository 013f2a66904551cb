package models

import (
	"time"

	"gorm.io/datatypes"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	AlertRankingDiscrepancy = "ranking_discrepancy"
	AlertOrphanedSessions   = "orphaned_sessions"
	AlertPendingPayments    = "pending_payments"
	AlertInvariantViolation = "invariant_violation"
)

type Alert struct {
	ID        string            `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Type      string            `json:"type" gorm:"type:varchar(64);not null;index:idx_alerts_type_created,priority:1"`
	Severity  Severity          `json:"severity" gorm:"type:varchar(16);not null"`
	Message   string            `json:"message" gorm:"type:text;not null"`
	Metadata  datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at" gorm:"not null;index:idx_alerts_type_created,priority:2"`
}
