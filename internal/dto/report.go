package dto

import "github.com/noah-isme/uni-enrollment-api/internal/models"

// ReportRequest captures POST /reports/generate payload.
type ReportRequest struct {
	Type          models.ReportType   `json:"type"`
	TermID        string              `json:"termId"`
	FacultyID     *string             `json:"facultyId,omitempty"`
	TargetGroupID *string             `json:"targetGroupId,omitempty"`
	Format        models.ReportFormat `json:"format"`
}

// ReportJobResponse is returned after enqueueing a report.
type ReportJobResponse struct {
	ID     string              `json:"id"`
	Status models.ReportStatus `json:"status"`
}

// ReportStatusResponse exposes job metadata.
type ReportStatusResponse struct {
	ID        string              `json:"id"`
	Status    models.ReportStatus `json:"status"`
	ResultURL *string             `json:"resultUrl,omitempty"`
	Error     *string             `json:"error,omitempty"`
}
