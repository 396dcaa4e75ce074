package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/uni-enrollment-api/internal/models"
)

// EnrollmentRepository persists per-student enrollment records.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// Create inserts a new enrollment record.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusActive
	}
	if enrollment.Marker == "" {
		enrollment.Marker = models.MarkerOnTrack
	}
	if enrollment.JoinedAt.IsZero() {
		enrollment.JoinedAt = time.Now().UTC()
	}
	const query = `INSERT INTO enrollments (id, student_id, group_id, term_id, marker, status, joined_at, left_at)
VALUES (:id, :student_id, :group_id, :term_id, :marker, :status, :joined_at, :left_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// FindActive returns the active record linking a student to a group.
func (r *EnrollmentRepository) FindActive(ctx context.Context, studentID, groupID string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, group_id, term_id, marker, status, joined_at, left_at
FROM enrollments WHERE student_id = $1 AND group_id = $2 AND status = $3 LIMIT 1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, studentID, groupID, models.EnrollmentStatusActive); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ActiveSlots returns the schedule slots of every group the student is
// actively enrolled in for the term, excluding one group when provided.
// The enrollment service feeds these into the conflict check.
func (r *EnrollmentRepository) ActiveSlots(ctx context.Context, studentID, termID, excludeGroupID string) ([]models.ScheduleSlot, error) {
	builder := strings.Builder{}
	builder.WriteString(`SELECT s.id, s.group_id, s.day_of_week, s.start_minute, s.end_minute
FROM enrollments e JOIN schedule_slots s ON s.group_id = e.group_id
WHERE e.student_id = $1 AND e.term_id = $2 AND e.status = $3`)
	args := []interface{}{studentID, termID, models.EnrollmentStatusActive}
	if excludeGroupID != "" {
		args = append(args, excludeGroupID)
		builder.WriteString(fmt.Sprintf(" AND e.group_id <> $%d", len(args)))
	}
	var slots []models.ScheduleSlot
	if err := r.db.SelectContext(ctx, &slots, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("load active slots: %w", err)
	}
	return slots, nil
}

// Retire closes an active record, keeping it as history.
func (r *EnrollmentRepository) Retire(ctx context.Context, id string, leftAt time.Time) error {
	const query = `UPDATE enrollments SET status = $2, left_at = $3 WHERE id = $1 AND status = $4`
	if _, err := r.db.ExecContext(ctx, query, id, models.EnrollmentStatusClosed, leftAt, models.EnrollmentStatusActive); err != nil {
		return fmt.Errorf("retire enrollment: %w", err)
	}
	return nil
}

// UpdateMarker sets the academic-standing marker on a record.
func (r *EnrollmentRepository) UpdateMarker(ctx context.Context, id string, marker models.StatusMarker) error {
	const query = `UPDATE enrollments SET marker = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, marker); err != nil {
		return fmt.Errorf("update enrollment marker: %w", err)
	}
	return nil
}

// List returns enrollment details matching the filter.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	builder := strings.Builder{}
	builder.WriteString(`SELECT e.id, e.student_id, e.group_id, e.term_id, e.marker, e.status, e.joined_at, e.left_at,
       st.full_name AS student_name, g.code AS group_code, c.code AS course_code, c.name AS course_name
FROM enrollments e
JOIN students st ON st.id = e.student_id
JOIN groups g ON g.id = e.group_id
JOIN courses c ON c.id = g.course_id`)

	conditions := make([]string, 0, 4)
	args := make([]interface{}, 0, 4)
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)))
	}
	if filter.GroupID != "" {
		args = append(args, filter.GroupID)
		conditions = append(conditions, fmt.Sprintf("e.group_id = $%d", len(args)))
	}
	if filter.TermID != "" {
		args = append(args, filter.TermID)
		conditions = append(conditions, fmt.Sprintf("e.term_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM (%s) sub", builder.String())
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}

	builder.WriteString(" ORDER BY e.joined_at DESC")
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", size, (page-1)*size))

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, builder.String(), args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}
	return enrollments, total, nil
}
