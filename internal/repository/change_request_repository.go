package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/uni-enrollment-api/internal/models"
)

// ChangeRequestRepository persists group-change requests.
type ChangeRequestRepository struct {
	db *sqlx.DB
}

// NewChangeRequestRepository constructs the repository.
func NewChangeRequestRepository(db *sqlx.DB) *ChangeRequestRepository {
	return &ChangeRequestRepository{db: db}
}

// Create inserts a new request row. Tracking number and priority rank come
// from the sequencer and are stored as-is.
func (r *ChangeRequestRepository) Create(ctx context.Context, request *models.ChangeRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.Status == "" {
		request.Status = models.ChangeRequestStatusPending
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO change_requests
	(id, tracking_number, priority_rank, student_id, term_id, source_course_id, source_group_id,
	 target_course_id, target_group_id, faculty_id, justification, status, reason, reviewed_by, created_at, reviewed_at)
	VALUES (:id, :tracking_number, :priority_rank, :student_id, :term_id, :source_course_id, :source_group_id,
	 :target_course_id, :target_group_id, :faculty_id, :justification, :status, :reason, :reviewed_by, :created_at, :reviewed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, request); err != nil {
		return fmt.Errorf("create change request: %w", err)
	}
	return nil
}

const changeRequestColumns = `id, tracking_number, priority_rank, student_id, term_id, source_course_id, source_group_id,
       target_course_id, target_group_id, faculty_id, justification, status, reason, reviewed_by, created_at, reviewed_at`

// GetByID fetches a request by identifier.
func (r *ChangeRequestRepository) GetByID(ctx context.Context, id string) (*models.ChangeRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM change_requests WHERE id = $1`, changeRequestColumns)
	var request models.ChangeRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// GetByTrackingNumber fetches a request by its public tracking number.
func (r *ChangeRequestRepository) GetByTrackingNumber(ctx context.Context, trackingNumber string) (*models.ChangeRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM change_requests WHERE tracking_number = $1`, changeRequestColumns)
	var request models.ChangeRequest
	if err := r.db.GetContext(ctx, &request, query, trackingNumber); err != nil {
		return nil, err
	}
	return &request, nil
}

// List returns requests matching the filter in ascending priority-rank
// order. First submitted is always served first; nothing reorders the queue.
func (r *ChangeRequestRepository) List(ctx context.Context, filter models.ChangeRequestFilter) ([]models.ChangeRequest, error) {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf(`SELECT %s FROM change_requests`, changeRequestColumns))

	conditions := make([]string, 0, 5)
	args := make([]interface{}, 0, 6)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if filter.TargetGroupID != "" {
		args = append(args, filter.TargetGroupID)
		conditions = append(conditions, fmt.Sprintf("target_group_id = $%d", len(args)))
	}
	if filter.FacultyID != "" {
		args = append(args, filter.FacultyID)
		conditions = append(conditions, fmt.Sprintf("faculty_id = $%d", len(args)))
	}
	if filter.TermID != "" {
		args = append(args, filter.TermID)
		conditions = append(conditions, fmt.Sprintf("term_id = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY priority_rank ASC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var requests []models.ChangeRequest
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list change requests: %w", err)
	}
	return requests, nil
}

// DecideChangeRequestParams groups the mutable columns for a decision.
type DecideChangeRequestParams struct {
	ID         string
	Status     models.ChangeRequestStatus
	ReviewedBy string
	ReviewedAt time.Time
	Reason     *string
}

// Decide persists a terminal decision. The PENDING guard in the WHERE clause
// makes the transition idempotent-safe: a second decision hits zero rows.
func (r *ChangeRequestRepository) Decide(ctx context.Context, params DecideChangeRequestParams) error {
	const query = `UPDATE change_requests
SET status = :status, reviewed_by = :reviewed_by, reviewed_at = :reviewed_at, reason = :reason
WHERE id = :id AND status = 'PENDING'`
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":          params.ID,
		"status":      params.Status,
		"reviewed_by": params.ReviewedBy,
		"reviewed_at": params.ReviewedAt,
		"reason":      params.Reason,
	})
	if err != nil {
		return fmt.Errorf("decide change request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check change request decision rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MaxPriorityRank returns the highest assigned rank, used to seed the
// sequencer after restart so ranks stay strictly increasing.
func (r *ChangeRequestRepository) MaxPriorityRank(ctx context.Context) (int64, error) {
	const query = `SELECT COALESCE(MAX(priority_rank), 0) FROM change_requests`
	var max int64
	if err := r.db.GetContext(ctx, &max, query); err != nil {
		return 0, fmt.Errorf("max priority rank: %w", err)
	}
	return max, nil
}

// MaxTrackingSerial returns the highest tracking-number serial ever issued.
func (r *ChangeRequestRepository) MaxTrackingSerial(ctx context.Context) (int64, error) {
	const query = `SELECT COALESCE(MAX(CAST(RIGHT(tracking_number, 4) AS INTEGER)), 0) FROM change_requests`
	var max int64
	if err := r.db.GetContext(ctx, &max, query); err != nil {
		return 0, fmt.Errorf("max tracking serial: %w", err)
	}
	return max, nil
}

// CountsByTargetGroup aggregates request counts per destination group.
func (r *ChangeRequestRepository) CountsByTargetGroup(ctx context.Context, termID string, facultyID string) ([]models.GroupDemand, error) {
	builder := strings.Builder{}
	builder.WriteString(`SELECT cr.target_group_id,
       g.code AS group_code, c.code AS course_code,
       COUNT(*) FILTER (WHERE cr.status = 'PENDING') AS pending,
       COUNT(*) FILTER (WHERE cr.status = 'APPROVED') AS approved,
       COUNT(*) FILTER (WHERE cr.status = 'REJECTED') AS rejected,
       COUNT(*) FILTER (WHERE cr.status = 'CANCELLED') AS cancelled
FROM change_requests cr
JOIN groups g ON g.id = cr.target_group_id
JOIN courses c ON c.id = cr.target_course_id`)

	conditions := make([]string, 0, 2)
	args := make([]interface{}, 0, 2)
	if termID != "" {
		args = append(args, termID)
		conditions = append(conditions, fmt.Sprintf("cr.term_id = $%d", len(args)))
	}
	if facultyID != "" {
		args = append(args, facultyID)
		conditions = append(conditions, fmt.Sprintf("cr.faculty_id = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" GROUP BY cr.target_group_id, g.code, c.code ORDER BY pending DESC, c.code, g.code")

	var demand []models.GroupDemand
	if err := r.db.SelectContext(ctx, &demand, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("aggregate change requests: %w", err)
	}
	return demand, nil
}
