package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/uni-enrollment-api/pkg/errors"
)

type windowStoreStub struct {
	windows []models.SubmissionWindow
}

func (s *windowStoreStub) Create(ctx context.Context, window *models.SubmissionWindow) error {
	window.ID = "w1"
	s.windows = append(s.windows, *window)
	return nil
}

func (s *windowStoreStub) FindOpen(ctx context.Context, termID string, at time.Time) ([]models.SubmissionWindow, error) {
	var open []models.SubmissionWindow
	for _, w := range s.windows {
		if w.TermID == termID && w.Contains(at) {
			open = append(open, w)
		}
	}
	return open, nil
}

func TestCalendarIsOpen(t *testing.T) {
	store := &windowStoreStub{windows: []models.SubmissionWindow{{
		TermID:   "t1",
		OpensAt:  time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		ClosesAt: time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC),
	}}}
	svc := NewCalendarService(store, nil)

	open, err := svc.IsOpen(context.Background(), "t1", time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, open)

	// the closing instant itself is already outside the window
	open, err = svc.IsOpen(context.Background(), "t1", time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.False(t, open)

	open, err = svc.IsOpen(context.Background(), "t2", time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.False(t, open)
}

func TestCalendarOpenWindow(t *testing.T) {
	store := &windowStoreStub{}
	svc := NewCalendarService(store, nil)
	admin := &models.JWTClaims{UserID: "a1", Role: models.RoleAdmin}

	window := &models.SubmissionWindow{
		TermID:   "t1",
		OpensAt:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		ClosesAt: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
	}

	_, err := svc.OpenWindow(context.Background(), window, &models.JWTClaims{UserID: "r1", Role: models.RoleReviewer})
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	created, err := svc.OpenWindow(context.Background(), window, admin)
	require.NoError(t, err)
	require.Equal(t, "a1", created.CreatedBy)
	require.Len(t, store.windows, 1)

	inverted := &models.SubmissionWindow{
		TermID:   "t1",
		OpensAt:  time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		ClosesAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	_, err = svc.OpenWindow(context.Background(), inverted, admin)
	require.ErrorIs(t, err, appErrors.ErrInvalidTimeRange)

	_, err = svc.OpenWindow(context.Background(), &models.SubmissionWindow{}, admin)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
