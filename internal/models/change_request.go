package models

import "time"

// ChangeRequestStatus captures workflow states for group-change requests.
type ChangeRequestStatus string

const (
	ChangeRequestStatusPending   ChangeRequestStatus = "PENDING"
	ChangeRequestStatusApproved  ChangeRequestStatus = "APPROVED"
	ChangeRequestStatusRejected  ChangeRequestStatus = "REJECTED"
	ChangeRequestStatusCancelled ChangeRequestStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s ChangeRequestStatus) Terminal() bool {
	switch s {
	case ChangeRequestStatusApproved, ChangeRequestStatusRejected, ChangeRequestStatusCancelled:
		return true
	}
	return false
}

// ChangeRequest is a student's request to move between groups. The tracking
// number and priority rank are assigned once at submission and never change.
type ChangeRequest struct {
	ID             string              `db:"id" json:"id"`
	TrackingNumber string              `db:"tracking_number" json:"tracking_number"`
	PriorityRank   int64               `db:"priority_rank" json:"priority_rank"`
	StudentID      string              `db:"student_id" json:"student_id"`
	TermID         string              `db:"term_id" json:"term_id"`
	SourceCourseID string              `db:"source_course_id" json:"source_course_id"`
	SourceGroupID  string              `db:"source_group_id" json:"source_group_id"`
	TargetCourseID string              `db:"target_course_id" json:"target_course_id"`
	TargetGroupID  string              `db:"target_group_id" json:"target_group_id"`
	FacultyID      string              `db:"faculty_id" json:"faculty_id"`
	Justification  string              `db:"justification" json:"justification"`
	Status         ChangeRequestStatus `db:"status" json:"status"`
	Reason         *string             `db:"reason" json:"reason,omitempty"`
	ReviewedBy     *string             `db:"reviewed_by" json:"reviewed_by,omitempty"`
	CreatedAt      time.Time           `db:"created_at" json:"created_at"`
	ReviewedAt     *time.Time          `db:"reviewed_at" json:"reviewed_at,omitempty"`
}

// ChangeRequestFilter constrains listing queries. Results are always ordered
// by ascending priority rank; no other criterion reorders the queue.
type ChangeRequestFilter struct {
	Status        []ChangeRequestStatus
	StudentID     string
	TargetGroupID string
	FacultyID     string
	TermID        string
	Limit         int
	Offset        int
}

// GroupDemand aggregates request counts per destination group for reporting.
type GroupDemand struct {
	TargetGroupID string `db:"target_group_id" json:"target_group_id"`
	GroupCode     string `db:"group_code" json:"group_code"`
	CourseCode    string `db:"course_code" json:"course_code"`
	Pending       int    `db:"pending" json:"pending"`
	Approved      int    `db:"approved" json:"approved"`
	Rejected      int    `db:"rejected" json:"rejected"`
	Cancelled     int    `db:"cancelled" json:"cancelled"`
}
