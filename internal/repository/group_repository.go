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

// GroupRepository persists course sections, their schedule slots and their
// rosters. Roster rows live in group_members; the enrollment service is the
// only caller allowed to touch them.
type GroupRepository struct {
	db *sqlx.DB
}

// NewGroupRepository constructs the repository.
func NewGroupRepository(db *sqlx.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// Create inserts a group row together with its schedule slots.
func (r *GroupRepository) Create(ctx context.Context, group *models.Group) error {
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if group.CreatedAt.IsZero() {
		group.CreatedAt = now
	}
	group.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create group: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const query = `INSERT INTO groups (id, course_id, term_id, code, capacity, instructor_id, created_at, updated_at)
VALUES (:id, :course_id, :term_id, :code, :capacity, :instructor_id, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, group); err != nil {
		return fmt.Errorf("create group: %w", err)
	}

	const slotQuery = `INSERT INTO schedule_slots (id, group_id, day_of_week, start_minute, end_minute)
VALUES ($1, $2, $3, $4, $5)`
	for i := range group.Slots {
		if group.Slots[i].ID == "" {
			group.Slots[i].ID = uuid.NewString()
		}
		group.Slots[i].GroupID = group.ID
		if _, err := tx.ExecContext(ctx, slotQuery,
			group.Slots[i].ID, group.ID, group.Slots[i].Day,
			group.Slots[i].StartMinute, group.Slots[i].EndMinute); err != nil {
			return fmt.Errorf("create group slot: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create group: %w", err)
	}
	return nil
}

// FindByID loads a group with its roster and slots.
func (r *GroupRepository) FindByID(ctx context.Context, id string) (*models.Group, error) {
	const query = `SELECT id, course_id, term_id, code, capacity, instructor_id, created_at, updated_at
FROM groups WHERE id = $1`
	var group models.Group
	if err := r.db.GetContext(ctx, &group, query, id); err != nil {
		return nil, err
	}

	const memberQuery = `SELECT student_id FROM group_members WHERE group_id = $1 ORDER BY joined_at`
	if err := r.db.SelectContext(ctx, &group.Roster, memberQuery, id); err != nil {
		return nil, fmt.Errorf("load group roster: %w", err)
	}

	const slotQuery = `SELECT id, group_id, day_of_week, start_minute, end_minute
FROM schedule_slots WHERE group_id = $1 ORDER BY day_of_week, start_minute`
	if err := r.db.SelectContext(ctx, &group.Slots, slotQuery, id); err != nil {
		return nil, fmt.Errorf("load group slots: %w", err)
	}
	return &group, nil
}

// List returns groups matching the filter with course info and occupancy.
func (r *GroupRepository) List(ctx context.Context, filter models.GroupFilter) ([]models.GroupDetail, int, error) {
	builder := strings.Builder{}
	builder.WriteString(`SELECT g.id, g.course_id, g.term_id, g.code, g.capacity, g.instructor_id, g.created_at, g.updated_at,
       c.code AS course_code, c.name AS course_name
FROM groups g JOIN courses c ON c.id = g.course_id`)

	conditions := make([]string, 0, 3)
	args := make([]interface{}, 0, 3)
	if filter.CourseID != "" {
		args = append(args, filter.CourseID)
		conditions = append(conditions, fmt.Sprintf("g.course_id = $%d", len(args)))
	}
	if filter.TermID != "" {
		args = append(args, filter.TermID)
		conditions = append(conditions, fmt.Sprintf("g.term_id = $%d", len(args)))
	}
	if filter.FacultyID != "" {
		args = append(args, filter.FacultyID)
		conditions = append(conditions, fmt.Sprintf("c.faculty_id = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM (%s) sub", builder.String())
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count groups: %w", err)
	}

	builder.WriteString(" ORDER BY c.code, g.code")
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", size, (page-1)*size))

	var groups []models.GroupDetail
	if err := r.db.SelectContext(ctx, &groups, builder.String(), args...); err != nil {
		return nil, 0, fmt.Errorf("list groups: %w", err)
	}
	for i := range groups {
		count, err := r.CountMembers(ctx, groups[i].ID)
		if err != nil {
			return nil, 0, err
		}
		groups[i].Enrolled = count
		groups[i].Full = count >= groups[i].Capacity
	}
	return groups, total, nil
}

// CountMembers returns the current roster size.
func (r *GroupRepository) CountMembers(ctx context.Context, groupID string) (int, error) {
	const query = `SELECT COUNT(*) FROM group_members WHERE group_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, groupID); err != nil {
		return 0, fmt.Errorf("count group members: %w", err)
	}
	return count, nil
}

// AddMember inserts a roster row.
func (r *GroupRepository) AddMember(ctx context.Context, groupID, studentID string, joinedAt time.Time) error {
	const query = `INSERT INTO group_members (group_id, student_id, joined_at) VALUES ($1, $2, $3)`
	if _, err := r.db.ExecContext(ctx, query, groupID, studentID, joinedAt); err != nil {
		return fmt.Errorf("add group member: %w", err)
	}
	return nil
}

// RemoveMember deletes a roster row.
func (r *GroupRepository) RemoveMember(ctx context.Context, groupID, studentID string) error {
	const query = `DELETE FROM group_members WHERE group_id = $1 AND student_id = $2`
	if _, err := r.db.ExecContext(ctx, query, groupID, studentID); err != nil {
		return fmt.Errorf("remove group member: %w", err)
	}
	return nil
}

// Delete removes an empty group and its slots. The empty-roster precondition
// is checked by the caller under the group's lock.
func (r *GroupRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete group: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM schedule_slots WHERE group_id = $1`, id); err != nil {
		return fmt.Errorf("delete group slots: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete group: %w", err)
	}
	return nil
}
