package services

import (
	"fmt"
	"strings"
	"time"

	"competition-engine/apperrors"
	"competition-engine/models"
)

const dateLayout = "2006-01-02"

// ParseBoundary turns a calendar date (2006-01-02) or an RFC 3339 instant
// into a UTC instant. Dates are read in loc; an end boundary given as a date
// covers the whole day.
func ParseBoundary(value string, loc *time.Location, end bool) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, apperrors.Validation(apperrors.CodeInvalidWindow, "window boundary is required")
	}

	if d, err := time.ParseInLocation(dateLayout, value, loc); err == nil {
		if end {
			d = d.AddDate(0, 0, 1).Add(-time.Second)
		}
		return d.UTC(), nil
	}

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, apperrors.Validation(apperrors.CodeInvalidWindow,
			"%q is neither a date (YYYY-MM-DD) nor an RFC 3339 timestamp", value)
	}
	return t.UTC(), nil
}

// ResolveWindow parses a window for kind. A daily competition may omit its end;
// it then closes at the end of its start day.
func ResolveWindow(kind models.Kind, start, end string, loc *time.Location) (time.Time, time.Time, error) {
	startAt, err := ParseBoundary(start, loc, false)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	if strings.TrimSpace(end) == "" && kind == models.KindDaily {
		local := startAt.In(loc)
		dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		return startAt, dayStart.AddDate(0, 0, 1).Add(-time.Second).UTC(), nil
	}

	endAt, err := ParseBoundary(end, loc, true)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return startAt, endAt, nil
}

// ISOWeekKey is the ranking period key of the ISO week containing t in loc,
// e.g. 2025-W23.
func ISOWeekKey(t time.Time, loc *time.Location) string {
	year, week := t.In(loc).ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// DayKey is the ranking period key of the calendar day containing t in loc.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dateLayout)
}

// PeriodKeyFor returns the live ranking period of kind at t.
func PeriodKeyFor(kind models.Kind, t time.Time, loc *time.Location) string {
	if kind == models.KindWeekly {
		return ISOWeekKey(t, loc)
	}
	return DayKey(t, loc)
}
