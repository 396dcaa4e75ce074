package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-enrollment-api/internal/dto"
	"github.com/noah-isme/uni-enrollment-api/internal/models"
	"github.com/noah-isme/uni-enrollment-api/internal/repository"
	appErrors "github.com/noah-isme/uni-enrollment-api/pkg/errors"
)

type changeRequestStoreStub struct {
	mu       sync.Mutex
	seq      int
	requests map[string]*models.ChangeRequest
}

func newChangeRequestStoreStub() *changeRequestStoreStub {
	return &changeRequestStoreStub{requests: make(map[string]*models.ChangeRequest)}
}

func (s *changeRequestStoreStub) Create(ctx context.Context, request *models.ChangeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if request.ID == "" {
		request.ID = fmt.Sprintf("req-%d", s.seq)
	}
	copy := *request
	s.requests[request.ID] = &copy
	return nil
}

func (s *changeRequestStoreStub) GetByID(ctx context.Context, id string) (*models.ChangeRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *request
	return &copy, nil
}

func (s *changeRequestStoreStub) GetByTrackingNumber(ctx context.Context, trackingNumber string) (*models.ChangeRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, request := range s.requests {
		if request.TrackingNumber == trackingNumber {
			copy := *request
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *changeRequestStoreStub) List(ctx context.Context, filter models.ChangeRequestFilter) ([]models.ChangeRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.ChangeRequest
	for _, request := range s.requests {
		if filter.StudentID != "" && request.StudentID != filter.StudentID {
			continue
		}
		if filter.TargetGroupID != "" && request.TargetGroupID != filter.TargetGroupID {
			continue
		}
		if len(filter.Status) > 0 {
			match := false
			for _, status := range filter.Status {
				if request.Status == status {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		result = append(result, *request)
	}
	return result, nil
}

func (s *changeRequestStoreStub) Decide(ctx context.Context, params repository.DecideChangeRequestParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.requests[params.ID]
	if !ok || request.Status != models.ChangeRequestStatusPending {
		return sql.ErrNoRows
	}
	request.Status = params.Status
	request.ReviewedBy = &params.ReviewedBy
	request.ReviewedAt = &params.ReviewedAt
	request.Reason = params.Reason
	return nil
}

type calendarStub struct {
	open bool
	err  error
}

func (c *calendarStub) IsOpen(ctx context.Context, termID string, at time.Time) (bool, error) {
	return c.open, c.err
}

type moverStub struct {
	err    error
	onMove func()
	moves  []string
}

func (m *moverStub) MoveStudent(ctx context.Context, studentID, sourceGroupID, targetGroupID, termID string) error {
	if m.onMove != nil {
		m.onMove()
	}
	if m.err != nil {
		return m.err
	}
	m.moves = append(m.moves, fmt.Sprintf("%s:%s->%s", studentID, sourceGroupID, targetGroupID))
	return nil
}

type courseStoreStub struct {
	courses map[string]*models.Course
}

func (c *courseStoreStub) FindByID(ctx context.Context, id string) (*models.Course, error) {
	course, ok := c.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *course
	return &copy, nil
}

type invalidatorStub struct {
	calls int
}

func (i *invalidatorStub) InvalidateDemand(ctx context.Context) error {
	i.calls++
	return nil
}

type changeRequestFixture struct {
	svc         *ChangeRequestService
	repo        *changeRequestStoreStub
	mover       *moverStub
	calendar    *calendarStub
	enrollments *enrollmentStoreStub
	invalidator *invalidatorStub
}

func newChangeRequestFixture(t *testing.T) *changeRequestFixture {
	t.Helper()
	repo := newChangeRequestStoreStub()
	mover := &moverStub{}
	calendar := &calendarStub{open: true}
	groups := newGroupStoreStub(
		&models.Group{ID: "g1", CourseID: "c1", TermID: "t1", Capacity: 2},
		&models.Group{ID: "g2", CourseID: "c2", TermID: "t1", Capacity: 2},
	)
	courses := &courseStoreStub{courses: map[string]*models.Course{
		"c1": {ID: "c1", FacultyID: "f1"},
		"c2": {ID: "c2", FacultyID: "f1"},
	}}
	enrollments := newEnrollmentStoreStub()
	invalidator := &invalidatorStub{}

	clock := func() time.Time {
		return time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	}
	sequencer := NewSequencer(WithClock(clock))
	svc := NewChangeRequestService(repo, sequencer, calendar, mover, groups, courses, enrollments, &auditStub{}, nil, nil,
		WithChangeRequestClock(clock),
		WithDemandInvalidator(invalidator),
	)
	return &changeRequestFixture{
		svc:         svc,
		repo:        repo,
		mover:       mover,
		calendar:    calendar,
		enrollments: enrollments,
		invalidator: invalidator,
	}
}

func (f *changeRequestFixture) enrollInSource(t *testing.T, studentID string) {
	t.Helper()
	err := f.enrollments.Create(context.Background(), &models.Enrollment{
		StudentID: studentID,
		GroupID:   "g1",
		TermID:    "t1",
		Status:    models.EnrollmentStatusActive,
	})
	require.NoError(t, err)
}

func submitPayload() dto.SubmitChangeRequest {
	return dto.SubmitChangeRequest{
		TermID:         "t1",
		SourceCourseID: "c1",
		SourceGroupID:  "g1",
		TargetCourseID: "c2",
		TargetGroupID:  "g2",
		Justification:  "schedule clash with work",
	}
}

func TestChangeRequestSubmitAssignsSequence(t *testing.T) {
	f := newChangeRequestFixture(t)
	f.enrollInSource(t, "s1")
	f.enrollInSource(t, "s2")
	student1 := &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}
	student2 := &models.JWTClaims{UserID: "s2", Role: models.RoleStudent}

	first, err := f.svc.Submit(context.Background(), submitPayload(), student1)
	require.NoError(t, err)
	require.Equal(t, models.ChangeRequestStatusPending, first.Status)
	require.Equal(t, int64(1), first.PriorityRank)
	require.Equal(t, "RAD-20260202-0001", first.TrackingNumber)
	require.Equal(t, "f1", first.FacultyID)

	second, err := f.svc.Submit(context.Background(), submitPayload(), student2)
	require.NoError(t, err)
	require.Equal(t, int64(2), second.PriorityRank)
	require.Equal(t, "RAD-20260202-0002", second.TrackingNumber)
	require.Greater(t, second.PriorityRank, first.PriorityRank)
	require.Equal(t, 2, f.invalidator.calls)
}

func TestChangeRequestSubmitWindowClosed(t *testing.T) {
	f := newChangeRequestFixture(t)
	f.calendar.open = false
	f.enrollInSource(t, "s1")

	_, err := f.svc.Submit(context.Background(), submitPayload(), &models.JWTClaims{UserID: "s1", Role: models.RoleStudent})
	require.ErrorIs(t, err, appErrors.ErrSubmissionWindowClosed)
}

func TestChangeRequestSubmitRequiresSourceEnrollment(t *testing.T) {
	f := newChangeRequestFixture(t)

	_, err := f.svc.Submit(context.Background(), submitPayload(), &models.JWTClaims{UserID: "s1", Role: models.RoleStudent})
	require.Equal(t, appErrors.ErrNotEnrolled.Code, appErrors.FromError(err).Code)
}

func TestChangeRequestSubmitStudentOnly(t *testing.T) {
	f := newChangeRequestFixture(t)

	_, err := f.svc.Submit(context.Background(), submitPayload(), &models.JWTClaims{UserID: "r1", Role: models.RoleReviewer})
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestChangeRequestApproveMovesStudent(t *testing.T) {
	f := newChangeRequestFixture(t)
	f.enrollInSource(t, "s1")
	student := &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}
	reviewer := &models.JWTClaims{UserID: "r1", Role: models.RoleReviewer}

	request, err := f.svc.Submit(context.Background(), submitPayload(), student)
	require.NoError(t, err)

	decided, err := f.svc.Approve(context.Background(), request.ID, reviewer)
	require.NoError(t, err)
	require.Equal(t, models.ChangeRequestStatusApproved, decided.Status)
	require.Equal(t, []string{"s1:g1->g2"}, f.mover.moves)
	require.Equal(t, "r1", *decided.ReviewedBy)

	stored, err := f.repo.GetByID(context.Background(), request.ID)
	require.NoError(t, err)
	require.Equal(t, models.ChangeRequestStatusApproved, stored.Status)
}

func TestChangeRequestApproveDegradesRuleViolation(t *testing.T) {
	f := newChangeRequestFixture(t)
	f.enrollInSource(t, "s1")
	f.mover.err = appErrors.ErrGroupFull
	student := &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}
	reviewer := &models.JWTClaims{UserID: "r1", Role: models.RoleReviewer}

	request, err := f.svc.Submit(context.Background(), submitPayload(), student)
	require.NoError(t, err)

	// a rule violation is a recorded rejection, not an error
	decided, err := f.svc.Approve(context.Background(), request.ID, reviewer)
	require.NoError(t, err)
	require.Equal(t, models.ChangeRequestStatusRejected, decided.Status)
	require.NotNil(t, decided.Reason)
	require.Equal(t, appErrors.ErrGroupFull.Code, *decided.Reason)
}

func TestChangeRequestApproveExcludesConcurrentCancel(t *testing.T) {
	f := newChangeRequestFixture(t)
	f.enrollInSource(t, "s1")
	student := &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}
	reviewer := &models.JWTClaims{UserID: "r1", Role: models.RoleReviewer}

	request, err := f.svc.Submit(context.Background(), submitPayload(), student)
	require.NoError(t, err)

	// a cancel fired while the move is in flight must wait for the approval
	// to finish; it can never land between the move and the decision
	cancelErr := make(chan error, 1)
	f.mover.onMove = func() {
		go func() {
			_, err := f.svc.Cancel(context.Background(), request.ID, student)
			cancelErr <- err
		}()
		time.Sleep(20 * time.Millisecond)
	}

	decided, err := f.svc.Approve(context.Background(), request.ID, reviewer)
	require.NoError(t, err)
	require.Equal(t, models.ChangeRequestStatusApproved, decided.Status)
	require.ErrorIs(t, <-cancelErr, appErrors.ErrInvalidStateTransition)

	stored, err := f.repo.GetByID(context.Background(), request.ID)
	require.NoError(t, err)
	require.Equal(t, models.ChangeRequestStatusApproved, stored.Status)
	require.Equal(t, []string{"s1:g1->g2"}, f.mover.moves)
}

func TestChangeRequestApproveInternalErrorStaysPending(t *testing.T) {
	f := newChangeRequestFixture(t)
	f.enrollInSource(t, "s1")
	f.mover.err = fmt.Errorf("connection reset")
	student := &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}
	reviewer := &models.JWTClaims{UserID: "r1", Role: models.RoleReviewer}

	request, err := f.svc.Submit(context.Background(), submitPayload(), student)
	require.NoError(t, err)

	_, err = f.svc.Approve(context.Background(), request.ID, reviewer)
	require.Error(t, err)

	stored, err := f.repo.GetByID(context.Background(), request.ID)
	require.NoError(t, err)
	require.Equal(t, models.ChangeRequestStatusPending, stored.Status)
}

func TestChangeRequestRejectRequiresReason(t *testing.T) {
	f := newChangeRequestFixture(t)
	f.enrollInSource(t, "s1")
	student := &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}
	reviewer := &models.JWTClaims{UserID: "r1", Role: models.RoleReviewer}

	request, err := f.svc.Submit(context.Background(), submitPayload(), student)
	require.NoError(t, err)

	_, err = f.svc.Reject(context.Background(), request.ID, dto.RejectChangeRequest{}, reviewer)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	decided, err := f.svc.Reject(context.Background(), request.ID, dto.RejectChangeRequest{Reason: "deadline passed"}, reviewer)
	require.NoError(t, err)
	require.Equal(t, models.ChangeRequestStatusRejected, decided.Status)
	require.Equal(t, "deadline passed", *decided.Reason)
}

func TestChangeRequestCancel(t *testing.T) {
	f := newChangeRequestFixture(t)
	f.enrollInSource(t, "s1")
	student := &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}
	reviewer := &models.JWTClaims{UserID: "r1", Role: models.RoleReviewer}

	request, err := f.svc.Submit(context.Background(), submitPayload(), student)
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), request.ID, &models.JWTClaims{UserID: "s2", Role: models.RoleStudent})
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	cancelled, err := f.svc.Cancel(context.Background(), request.ID, student)
	require.NoError(t, err)
	require.Equal(t, models.ChangeRequestStatusCancelled, cancelled.Status)

	// terminal states never transition again
	_, err = f.svc.Cancel(context.Background(), request.ID, student)
	require.ErrorIs(t, err, appErrors.ErrInvalidStateTransition)

	_, err = f.svc.Approve(context.Background(), request.ID, reviewer)
	require.ErrorIs(t, err, appErrors.ErrInvalidStateTransition)
}

func TestChangeRequestQueueRoleScoped(t *testing.T) {
	f := newChangeRequestFixture(t)
	f.enrollInSource(t, "s1")
	student := &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}
	reviewer := &models.JWTClaims{UserID: "r1", Role: models.RoleReviewer}

	request, err := f.svc.Submit(context.Background(), submitPayload(), student)
	require.NoError(t, err)

	_, err = f.svc.Queue(context.Background(), "g2", student)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	queue, err := f.svc.Queue(context.Background(), "g2", reviewer)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	require.Equal(t, request.ID, queue[0].ID)
}

func TestChangeRequestGetByTracking(t *testing.T) {
	f := newChangeRequestFixture(t)
	f.enrollInSource(t, "s1")
	student := &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}

	request, err := f.svc.Submit(context.Background(), submitPayload(), student)
	require.NoError(t, err)

	found, err := f.svc.GetByTracking(context.Background(), request.TrackingNumber, student)
	require.NoError(t, err)
	require.Equal(t, request.ID, found.ID)

	_, err = f.svc.GetByTracking(context.Background(), request.TrackingNumber, &models.JWTClaims{UserID: "s9", Role: models.RoleStudent})
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
