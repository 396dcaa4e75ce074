package models

import (
	"time"

	appErrors "github.com/noah-isme/uni-enrollment-api/pkg/errors"
)

// Group represents a scheduled section of a course with bounded capacity.
// Roster and slots are loaded alongside the row by the repository; roster
// mutation goes exclusively through the enrollment service.
type Group struct {
	ID           string         `db:"id" json:"id"`
	CourseID     string         `db:"course_id" json:"course_id"`
	TermID       string         `db:"term_id" json:"term_id"`
	Code         string         `db:"code" json:"code"`
	Capacity     int            `db:"capacity" json:"capacity"`
	InstructorID *string        `db:"instructor_id" json:"instructor_id,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
	Roster       []string       `db:"-" json:"roster"`
	Slots        []ScheduleSlot `db:"-" json:"slots"`
}

// Validate enforces construction invariants.
func (g *Group) Validate() error {
	if g.Capacity <= 0 {
		return appErrors.ErrInvalidCapacity
	}
	return nil
}

// Occupancy returns the enrolled count and the capacity.
func (g *Group) Occupancy() (int, int) {
	return len(g.Roster), g.Capacity
}

// HasCapacity reports whether at least one seat remains.
func (g *Group) HasCapacity() bool {
	return len(g.Roster) < g.Capacity
}

// IsFull is always derived from the roster, never stored.
func (g *Group) IsFull() bool {
	return len(g.Roster) >= g.Capacity
}

// HasStudent reports roster membership.
func (g *Group) HasStudent(studentID string) bool {
	for _, id := range g.Roster {
		if id == studentID {
			return true
		}
	}
	return false
}

// AddStudent inserts a student into the in-memory roster. Callers must hold
// the group's lock; persistence is the repository's concern.
func (g *Group) AddStudent(studentID string) error {
	if g.HasStudent(studentID) {
		return appErrors.ErrAlreadyEnrolled
	}
	if !g.HasCapacity() {
		return appErrors.ErrGroupFull
	}
	g.Roster = append(g.Roster, studentID)
	return nil
}

// RemoveStudent removes a student from the in-memory roster.
func (g *Group) RemoveStudent(studentID string) error {
	for i, id := range g.Roster {
		if id == studentID {
			g.Roster = append(g.Roster[:i], g.Roster[i+1:]...)
			return nil
		}
	}
	return appErrors.ErrNotEnrolled
}

// ConflictsWith reports whether any slot of this group overlaps any of the
// provided slots.
func (g *Group) ConflictsWith(slots []ScheduleSlot) bool {
	for _, mine := range g.Slots {
		for _, theirs := range slots {
			if mine.Overlaps(theirs) {
				return true
			}
		}
	}
	return false
}

// GroupDetail enriches Group with course info and the derived occupancy.
type GroupDetail struct {
	Group
	CourseCode string `db:"course_code" json:"course_code"`
	CourseName string `db:"course_name" json:"course_name"`
	Enrolled   int    `json:"enrolled"`
	Full       bool   `json:"is_full"`
}

// GroupFilter provides filters for listing groups.
type GroupFilter struct {
	CourseID  string
	TermID    string
	FacultyID string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
