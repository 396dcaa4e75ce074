package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment record.
type EnrollmentStatus string

// Possible enrollment record statuses. Records are retired, never deleted,
// so history survives drops and approved group changes.
const (
	EnrollmentStatusActive EnrollmentStatus = "ACTIVE"
	EnrollmentStatusClosed EnrollmentStatus = "CLOSED"
)

// StatusMarker is the academic-standing indicator attached to a record.
type StatusMarker string

const (
	MarkerOnTrack StatusMarker = "ON_TRACK"
	MarkerAtRisk  StatusMarker = "AT_RISK"
	MarkerFailed  StatusMarker = "FAILED"
)

// Enrollment links a student to a group for a term.
type Enrollment struct {
	ID        string           `db:"id" json:"id"`
	StudentID string           `db:"student_id" json:"student_id"`
	GroupID   string           `db:"group_id" json:"group_id"`
	TermID    string           `db:"term_id" json:"term_id"`
	Marker    StatusMarker     `db:"marker" json:"marker"`
	Status    EnrollmentStatus `db:"status" json:"status"`
	JoinedAt  time.Time        `db:"joined_at" json:"joined_at"`
	LeftAt    *time.Time       `db:"left_at" json:"left_at,omitempty"`
}

// EnrollmentDetail enriches Enrollment with student and group info.
type EnrollmentDetail struct {
	Enrollment
	StudentName string `db:"student_name" json:"student_name"`
	GroupCode   string `db:"group_code" json:"group_code"`
	CourseCode  string `db:"course_code" json:"course_code"`
	CourseName  string `db:"course_name" json:"course_name"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	GroupID   string
	TermID    string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
}
