package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-enrollment-api/internal/models"
)

func newChangeRequestRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func changeRequestRows(requests ...models.ChangeRequest) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "tracking_number", "priority_rank", "student_id", "term_id",
		"source_course_id", "source_group_id", "target_course_id", "target_group_id", "faculty_id",
		"justification", "status", "reason", "reviewed_by", "created_at", "reviewed_at"})
	for _, r := range requests {
		rows.AddRow(r.ID, r.TrackingNumber, r.PriorityRank, r.StudentID, r.TermID,
			r.SourceCourseID, r.SourceGroupID, r.TargetCourseID, r.TargetGroupID, r.FacultyID,
			r.Justification, r.Status, r.Reason, r.ReviewedBy, r.CreatedAt, r.ReviewedAt)
	}
	return rows
}

func TestChangeRequestRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newChangeRequestRepoMock(t)
	defer cleanup()

	repo := NewChangeRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO change_requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	request := &models.ChangeRequest{
		TrackingNumber: "RAD-20260202-0001",
		PriorityRank:   1,
		StudentID:      "student-1",
		TermID:         "term-1",
		SourceCourseID: "course-1",
		SourceGroupID:  "group-1",
		TargetCourseID: "course-2",
		TargetGroupID:  "group-2",
		FacultyID:      "faculty-1",
		Justification:  "schedule clash",
	}
	require.NoError(t, repo.Create(context.Background(), request))
	require.NotEmpty(t, request.ID)
	require.Equal(t, models.ChangeRequestStatusPending, request.Status)
	require.False(t, request.CreatedAt.IsZero())

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, tracking_number, priority_rank")).
		WithArgs(request.ID).
		WillReturnRows(changeRequestRows(*request))

	found, err := repo.GetByID(context.Background(), request.ID)
	require.NoError(t, err)
	require.Equal(t, request.TrackingNumber, found.TrackingNumber)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRequestRepositoryGetByTrackingNumber(t *testing.T) {
	db, mock, cleanup := newChangeRequestRepoMock(t)
	defer cleanup()

	repo := NewChangeRequestRepository(db)
	stored := models.ChangeRequest{
		ID:             "req-1",
		TrackingNumber: "RAD-20260202-0042",
		PriorityRank:   42,
		StudentID:      "student-1",
		Status:         models.ChangeRequestStatusPending,
		CreatedAt:      time.Now(),
	}
	mock.ExpectQuery(regexp.QuoteMeta("WHERE tracking_number = $1")).
		WithArgs("RAD-20260202-0042").
		WillReturnRows(changeRequestRows(stored))

	found, err := repo.GetByTrackingNumber(context.Background(), "RAD-20260202-0042")
	require.NoError(t, err)
	require.Equal(t, "req-1", found.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRequestRepositoryListOrdersByRank(t *testing.T) {
	db, mock, cleanup := newChangeRequestRepoMock(t)
	defer cleanup()

	repo := NewChangeRequestRepository(db)
	rows := changeRequestRows(
		models.ChangeRequest{ID: "req-1", PriorityRank: 1, Status: models.ChangeRequestStatusPending, CreatedAt: time.Now()},
		models.ChangeRequest{ID: "req-2", PriorityRank: 2, Status: models.ChangeRequestStatusPending, CreatedAt: time.Now()},
	)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY priority_rank ASC")).
		WithArgs("PENDING", "group-2").
		WillReturnRows(rows)

	list, err := repo.List(context.Background(), models.ChangeRequestFilter{
		Status:        []models.ChangeRequestStatus{models.ChangeRequestStatusPending},
		TargetGroupID: "group-2",
	})
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "req-1", list[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRequestRepositoryDecide(t *testing.T) {
	db, mock, cleanup := newChangeRequestRepoMock(t)
	defer cleanup()

	repo := NewChangeRequestRepository(db)
	now := time.Now()
	reason := "GROUP_FULL"

	mock.ExpectExec(regexp.QuoteMeta("UPDATE change_requests")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	err := repo.Decide(context.Background(), DecideChangeRequestParams{
		ID:         "req-1",
		Status:     models.ChangeRequestStatusRejected,
		ReviewedBy: "reviewer-1",
		ReviewedAt: now,
		Reason:     &reason,
	})
	require.NoError(t, err)

	// the PENDING guard turns a second decision into zero affected rows
	mock.ExpectExec(regexp.QuoteMeta("UPDATE change_requests")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = repo.Decide(context.Background(), DecideChangeRequestParams{
		ID:         "req-1",
		Status:     models.ChangeRequestStatusApproved,
		ReviewedBy: "reviewer-1",
		ReviewedAt: now,
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRequestRepositorySequencerSeeds(t *testing.T) {
	db, mock, cleanup := newChangeRequestRepoMock(t)
	defer cleanup()

	repo := NewChangeRequestRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("COALESCE(MAX(priority_rank), 0)")).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(17))
	rank, err := repo.MaxPriorityRank(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(17), rank)

	mock.ExpectQuery(regexp.QuoteMeta("RIGHT(tracking_number, 4)")).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(205))
	serial, err := repo.MaxTrackingSerial(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(205), serial)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRequestRepositoryCountsByTargetGroup(t *testing.T) {
	db, mock, cleanup := newChangeRequestRepoMock(t)
	defer cleanup()

	repo := NewChangeRequestRepository(db)
	rows := sqlmock.NewRows([]string{"target_group_id", "group_code", "course_code", "pending", "approved", "rejected", "cancelled"}).
		AddRow("group-2", "A", "CS201", 3, 1, 2, 0)
	mock.ExpectQuery(regexp.QuoteMeta("FROM change_requests cr")).
		WithArgs("term-1", "faculty-1").
		WillReturnRows(rows)

	demand, err := repo.CountsByTargetGroup(context.Background(), "term-1", "faculty-1")
	require.NoError(t, err)
	require.Len(t, demand, 1)
	require.Equal(t, 3, demand[0].Pending)
	require.NoError(t, mock.ExpectationsWereMet())
}
