package models

import (
	"fmt"

	appErrors "github.com/noah-isme/uni-enrollment-api/pkg/errors"
)

// DayOfWeek enumerates the days a group may meet.
type DayOfWeek string

const (
	DayMonday    DayOfWeek = "MONDAY"
	DayTuesday   DayOfWeek = "TUESDAY"
	DayWednesday DayOfWeek = "WEDNESDAY"
	DayThursday  DayOfWeek = "THURSDAY"
	DayFriday    DayOfWeek = "FRIDAY"
	DaySaturday  DayOfWeek = "SATURDAY"
	DaySunday    DayOfWeek = "SUNDAY"
)

// Valid reports whether the value is a known day.
func (d DayOfWeek) Valid() bool {
	switch d {
	case DayMonday, DayTuesday, DayWednesday, DayThursday, DayFriday, DaySaturday, DaySunday:
		return true
	}
	return false
}

// ScheduleSlot is a meeting block for a group: a day plus a half-open
// [start, end) interval expressed in minutes from midnight.
type ScheduleSlot struct {
	ID          string    `db:"id" json:"id"`
	GroupID     string    `db:"group_id" json:"group_id"`
	Day         DayOfWeek `db:"day_of_week" json:"day_of_week"`
	StartMinute int       `db:"start_minute" json:"start_minute"`
	EndMinute   int       `db:"end_minute" json:"end_minute"`
}

// NewScheduleSlot validates and builds a slot.
func NewScheduleSlot(day DayOfWeek, startMinute, endMinute int) (ScheduleSlot, error) {
	if !day.Valid() {
		return ScheduleSlot{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown day of week: %s", day))
	}
	if startMinute < 0 || endMinute > 24*60 || startMinute >= endMinute {
		return ScheduleSlot{}, appErrors.ErrInvalidTimeRange
	}
	return ScheduleSlot{Day: day, StartMinute: startMinute, EndMinute: endMinute}, nil
}

// Overlaps reports whether two slots collide. Intervals are half-open, so a
// slot ending exactly when another starts is compatible.
func (s ScheduleSlot) Overlaps(other ScheduleSlot) bool {
	if s.Day != other.Day {
		return false
	}
	return s.StartMinute < other.EndMinute && other.StartMinute < s.EndMinute
}

// Label renders the slot as e.g. "MONDAY 08:00-10:00" for exports and logs.
func (s ScheduleSlot) Label() string {
	return fmt.Sprintf("%s %02d:%02d-%02d:%02d", s.Day,
		s.StartMinute/60, s.StartMinute%60, s.EndMinute/60, s.EndMinute%60)
}
