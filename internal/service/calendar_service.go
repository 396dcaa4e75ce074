package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/uni-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/uni-enrollment-api/pkg/errors"
)

type windowStore interface {
	Create(ctx context.Context, window *models.SubmissionWindow) error
	FindOpen(ctx context.Context, termID string, at time.Time) ([]models.SubmissionWindow, error)
}

// CalendarService supplies the open/closed state of the change-request
// submission window.
type CalendarService struct {
	repo   windowStore
	logger *zap.Logger
}

// NewCalendarService constructs CalendarService.
func NewCalendarService(repo windowStore, logger *zap.Logger) *CalendarService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CalendarService{repo: repo, logger: logger}
}

// IsOpen reports whether any submission window for the term contains the
// given instant.
func (s *CalendarService) IsOpen(ctx context.Context, termID string, at time.Time) (bool, error) {
	windows, err := s.repo.FindOpen(ctx, termID, at)
	if err != nil {
		return false, err
	}
	return len(windows) > 0, nil
}

// OpenWindow registers a new submission window for a term.
func (s *CalendarService) OpenWindow(ctx context.Context, window *models.SubmissionWindow, actor *models.JWTClaims) (*models.SubmissionWindow, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	if window.TermID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "term is required")
	}
	if !window.OpensAt.Before(window.ClosesAt) {
		return nil, appErrors.ErrInvalidTimeRange
	}
	window.CreatedBy = actor.UserID
	if err := s.repo.Create(ctx, window); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create submission window")
	}
	return window, nil
}
