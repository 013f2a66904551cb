package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the cadence of a competition.
type Kind string

const (
	KindDaily  Kind = "daily"
	KindWeekly Kind = "weekly"
)

// Kinds lists every kind in the order the reconciler walks them.
var Kinds = []Kind{KindDaily, KindWeekly}

func (k Kind) Valid() bool {
	switch k {
	case KindDaily, KindWeekly:
		return true
	}
	return false
}

// ExclusiveWindows reports whether competitions of this kind may not overlap.
func (k Kind) ExclusiveWindows() bool {
	return k == KindWeekly
}

// Status is the lifecycle state of a competition.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
	StatusCompleted Status = "completed"
)

var Statuses = []Status{StatusScheduled, StatusActive, StatusEnded, StatusCompleted}

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusActive, StatusEnded, StatusCompleted:
		return true
	}
	return false
}

// CanTransitionTo reports whether s -> next is an edge of the lifecycle:
// scheduled -> active -> ended -> completed. Completed is terminal.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusScheduled:
		return next == StatusActive
	case StatusActive:
		return next == StatusEnded
	case StatusEnded:
		return next == StatusCompleted
	case StatusCompleted:
		return false
	}
	return false
}

// Competition is a time-boxed contest. StartAt and EndAt are both inclusive
// and always stored in UTC.
type Competition struct {
	ID              string              `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Kind            Kind                `json:"kind" gorm:"type:varchar(16);not null;index:idx_competitions_kind_status,priority:1"`
	Title           string              `json:"title" gorm:"not null"`
	Description     string              `json:"description" gorm:"type:text"`
	Slug            string              `json:"slug" gorm:"type:varchar(160);not null;uniqueIndex"`
	StartAt         time.Time           `json:"start_at" gorm:"not null;index"`
	EndAt           time.Time           `json:"end_at" gorm:"not null;index"`
	Status          Status              `json:"status" gorm:"type:varchar(16);not null;default:'scheduled';index:idx_competitions_kind_status,priority:2"`
	MaxParticipants *int                `json:"max_participants,omitempty"`
	PrizePool       decimal.NullDecimal `json:"prize_pool" gorm:"type:numeric(12,2)"`

	Timestamps

	// Calculated fields (not stored in DB)
	ParticipantCount int64 `json:"participant_count,omitempty" gorm:"-"`
}

// HasStarted reports whether now is at or after the window start.
func (c *Competition) HasStarted(now time.Time) bool {
	return !now.Before(c.StartAt)
}

// HasExpired reports whether now is strictly after the window end.
func (c *Competition) HasExpired(now time.Time) bool {
	return now.After(c.EndAt)
}

// WindowContains reports whether now falls inside the inclusive window.
func (c *Competition) WindowContains(now time.Time) bool {
	return c.HasStarted(now) && !c.HasExpired(now)
}

// Overlaps reports whether the inclusive windows [start,end] and the
// competition's window intersect.
func (c *Competition) Overlaps(start, end time.Time) bool {
	return !start.After(c.EndAt) && !end.Before(c.StartAt)
}

// IsFull reports whether a participant cap is set and already reached.
func (c *Competition) IsFull(participants int64) bool {
	return c.MaxParticipants != nil && participants >= int64(*c.MaxParticipants)
}

// PeriodKey is the ranking period owned by this competition.
func (c *Competition) PeriodKey() string {
	return "competition:" + c.ID
}
