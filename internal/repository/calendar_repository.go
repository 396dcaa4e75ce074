package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/uni-enrollment-api/internal/models"
)

// CalendarRepository persists change-request submission windows.
type CalendarRepository struct {
	db *sqlx.DB
}

// NewCalendarRepository constructs the repository.
func NewCalendarRepository(db *sqlx.DB) *CalendarRepository {
	return &CalendarRepository{db: db}
}

// Create inserts a submission window.
func (r *CalendarRepository) Create(ctx context.Context, window *models.SubmissionWindow) error {
	if window.ID == "" {
		window.ID = uuid.NewString()
	}
	if window.CreatedAt.IsZero() {
		window.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO submission_windows (id, term_id, opens_at, closes_at, created_by, created_at)
VALUES (:id, :term_id, :opens_at, :closes_at, :created_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, window); err != nil {
		return err
	}
	return nil
}

// FindOpen returns windows containing the given instant for a term.
func (r *CalendarRepository) FindOpen(ctx context.Context, termID string, at time.Time) ([]models.SubmissionWindow, error) {
	const query = `SELECT id, term_id, opens_at, closes_at, created_by, created_at
FROM submission_windows WHERE term_id = $1 AND opens_at <= $2 AND closes_at > $2`
	var windows []models.SubmissionWindow
	if err := r.db.SelectContext(ctx, &windows, query, termID, at); err != nil {
		return nil, err
	}
	return windows, nil
}
