package dto

import "github.com/noah-isme/uni-enrollment-api/internal/models"

// SubmitChangeRequest payload for creating a group-change request.
type SubmitChangeRequest struct {
	TermID         string `json:"termId" validate:"required"`
	SourceCourseID string `json:"sourceCourseId" validate:"required"`
	SourceGroupID  string `json:"sourceGroupId" validate:"required"`
	TargetCourseID string `json:"targetCourseId" validate:"required"`
	TargetGroupID  string `json:"targetGroupId" validate:"required"`
	Justification  string `json:"justification" validate:"required"`
}

// RejectChangeRequest captures the reviewer's rejection reason.
type RejectChangeRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// ChangeRequestQuery mirrors supported listing filters.
type ChangeRequestQuery struct {
	Status        []models.ChangeRequestStatus
	TargetGroupID string
	TermID        string
	Limit         int
	Offset        int
}
