package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/uni-enrollment-api/internal/dto"
	"github.com/noah-isme/uni-enrollment-api/internal/models"
	"github.com/noah-isme/uni-enrollment-api/internal/repository"
	appErrors "github.com/noah-isme/uni-enrollment-api/pkg/errors"
)

type changeRequestStore interface {
	Create(ctx context.Context, request *models.ChangeRequest) error
	GetByID(ctx context.Context, id string) (*models.ChangeRequest, error)
	GetByTrackingNumber(ctx context.Context, trackingNumber string) (*models.ChangeRequest, error)
	List(ctx context.Context, filter models.ChangeRequestFilter) ([]models.ChangeRequest, error)
	Decide(ctx context.Context, params repository.DecideChangeRequestParams) error
}

// requestSequencer issues priority ranks and tracking numbers. Tests
// substitute a deterministic fake.
type requestSequencer interface {
	NextPriorityRank() int64
	NextTrackingNumber() string
}

// submissionCalendar answers whether the submission window is open.
type submissionCalendar interface {
	IsOpen(ctx context.Context, termID string, at time.Time) (bool, error)
}

// rosterMover executes the approved move as one atomic unit.
type rosterMover interface {
	MoveStudent(ctx context.Context, studentID, sourceGroupID, targetGroupID, termID string) error
}

type groupReader interface {
	FindByID(ctx context.Context, id string) (*models.Group, error)
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type sourceEnrollmentReader interface {
	FindActive(ctx context.Context, studentID, groupID string) (*models.Enrollment, error)
}

type demandInvalidator interface {
	InvalidateDemand(ctx context.Context) error
}

// ChangeRequestService drives the request lifecycle: PENDING at submission,
// then exactly one transition to APPROVED, REJECTED or CANCELLED.
type ChangeRequestService struct {
	repo        changeRequestStore
	sequencer   requestSequencer
	calendar    submissionCalendar
	mover       rosterMover
	groups      groupReader
	courses     courseReader
	enrollments sourceEnrollmentReader
	audit       auditLogger
	cache       demandInvalidator
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	locks       *keyedLocks
	now         func() time.Time
}

// ChangeRequestServiceOption configures the service.
type ChangeRequestServiceOption func(*ChangeRequestService)

// WithChangeRequestClock overrides the time source.
func WithChangeRequestClock(now func() time.Time) ChangeRequestServiceOption {
	return func(s *ChangeRequestService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDemandInvalidator wires cache invalidation after decisions.
func WithDemandInvalidator(cache demandInvalidator) ChangeRequestServiceOption {
	return func(s *ChangeRequestService) {
		s.cache = cache
	}
}

// WithChangeRequestMetrics wires decision counters.
func WithChangeRequestMetrics(metrics *MetricsService) ChangeRequestServiceOption {
	return func(s *ChangeRequestService) {
		s.metrics = metrics
	}
}

// NewChangeRequestService constructs the service.
func NewChangeRequestService(repo changeRequestStore, sequencer requestSequencer, calendar submissionCalendar, mover rosterMover, groups groupReader, courses courseReader, enrollments sourceEnrollmentReader, audit auditLogger, validate *validator.Validate, logger *zap.Logger, opts ...ChangeRequestServiceOption) *ChangeRequestService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &ChangeRequestService{
		repo:        repo,
		sequencer:   sequencer,
		calendar:    calendar,
		mover:       mover,
		groups:      groups,
		courses:     courses,
		enrollments: enrollments,
		audit:       audit,
		validator:   validate,
		logger:      logger,
		locks:       newKeyedLocks(),
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Submit files a new request on behalf of the acting student.
func (s *ChangeRequestService) Submit(ctx context.Context, req dto.SubmitChangeRequest, actor *models.JWTClaims) (*models.ChangeRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students submit change requests")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change request payload")
	}
	if req.SourceGroupID == req.TargetGroupID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "target group must differ from source group")
	}

	now := s.now().UTC()
	open, err := s.calendar.IsOpen(ctx, req.TermID, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check submission window")
	}
	if !open {
		return nil, appErrors.ErrSubmissionWindowClosed
	}

	if _, err := s.enrollments.FindActive(ctx, actor.UserID, req.SourceGroupID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotEnrolled, "student not enrolled in source group")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load source enrollment")
	}

	target, err := s.groups.FindByID(ctx, req.TargetGroupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "target group not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load target group")
	}
	if target.CourseID != req.TargetCourseID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "target group does not belong to target course")
	}
	course, err := s.courses.FindByID(ctx, req.TargetCourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "target course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load target course")
	}

	request := &models.ChangeRequest{
		TrackingNumber: s.sequencer.NextTrackingNumber(),
		PriorityRank:   s.sequencer.NextPriorityRank(),
		StudentID:      actor.UserID,
		TermID:         req.TermID,
		SourceCourseID: req.SourceCourseID,
		SourceGroupID:  req.SourceGroupID,
		TargetCourseID: req.TargetCourseID,
		TargetGroupID:  req.TargetGroupID,
		FacultyID:      course.FacultyID,
		Justification:  req.Justification,
		Status:         models.ChangeRequestStatusPending,
		CreatedAt:      now,
	}
	if err := s.repo.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create change request")
	}
	s.invalidateDemand(ctx)
	s.emitAudit(ctx, actor.UserID, models.AuditActionRequestSubmit, request)
	return request, nil
}

// Get returns a request enforcing scope: students see their own, reviewers
// and admins see all.
func (s *ChangeRequestService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.ChangeRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	request, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load change request")
	}
	if actor.Role == models.RoleStudent && request.StudentID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	return request, nil
}

// GetByTracking resolves a request by its public tracking number, with the
// same scoping as Get.
func (s *ChangeRequestService) GetByTracking(ctx context.Context, trackingNumber string, actor *models.JWTClaims) (*models.ChangeRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	request, err := s.repo.GetByTrackingNumber(ctx, trackingNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load change request")
	}
	if actor.Role == models.RoleStudent && request.StudentID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	return request, nil
}

// List returns accessible requests, always in priority-rank order.
func (s *ChangeRequestService) List(ctx context.Context, query dto.ChangeRequestQuery, actor *models.JWTClaims) ([]models.ChangeRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	filter := models.ChangeRequestFilter{
		Status:        query.Status,
		TargetGroupID: query.TargetGroupID,
		TermID:        query.TermID,
		Limit:         query.Limit,
		Offset:        query.Offset,
	}
	switch actor.Role {
	case models.RoleAdmin, models.RoleReviewer:
		// full access, no extra filters
	case models.RoleStudent:
		filter.StudentID = actor.UserID
	default:
		return nil, appErrors.ErrForbidden
	}
	requests, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list change requests")
	}
	return requests, nil
}

// Queue returns the pending requests competing for a destination group in
// first-submitted, first-served order.
func (s *ChangeRequestService) Queue(ctx context.Context, targetGroupID string, actor *models.JWTClaims) ([]models.ChangeRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleReviewer && actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	requests, err := s.repo.List(ctx, models.ChangeRequestFilter{
		Status:        []models.ChangeRequestStatus{models.ChangeRequestStatusPending},
		TargetGroupID: targetGroupID,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request queue")
	}
	return requests, nil
}

// Approve re-runs the capacity and conflict checks against the destination
// and commits the move. A rule violation degrades the request to REJECTED
// with the triggering reason recorded; it is never left PENDING. The
// per-request lock makes the status check, the move and the decision one
// critical section: a concurrent Cancel cannot land between them.
func (s *ChangeRequestService) Approve(ctx context.Context, id string, actor *models.JWTClaims) (*models.ChangeRequest, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	request, err := s.loadForReview(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	if err := s.mover.MoveStudent(ctx, request.StudentID, request.SourceGroupID, request.TargetGroupID, request.TermID); err != nil {
		if reason, ok := rejectionReason(err); ok {
			return s.decide(ctx, request, models.ChangeRequestStatusRejected, actor.UserID, &reason)
		}
		return nil, err
	}
	return s.decide(ctx, request, models.ChangeRequestStatusApproved, actor.UserID, nil)
}

// Reject records a reviewer rejection without touching any roster.
func (s *ChangeRequestService) Reject(ctx context.Context, id string, req dto.RejectChangeRequest, actor *models.JWTClaims) (*models.ChangeRequest, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	request, err := s.loadForReview(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "rejection reason is required")
	}
	return s.decide(ctx, request, models.ChangeRequestStatusRejected, actor.UserID, &req.Reason)
}

// Cancel withdraws a pending request. Only the requesting student may
// cancel, and only before a decision.
func (s *ChangeRequestService) Cancel(ctx context.Context, id string, actor *models.JWTClaims) (*models.ChangeRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	request, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load change request")
	}
	if request.StudentID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	if request.Status.Terminal() {
		return nil, appErrors.ErrInvalidStateTransition
	}
	return s.decide(ctx, request, models.ChangeRequestStatusCancelled, actor.UserID, nil)
}

func (s *ChangeRequestService) loadForReview(ctx context.Context, id string, actor *models.JWTClaims) (*models.ChangeRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleReviewer && actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	request, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load change request")
	}
	if request.Status.Terminal() {
		return nil, appErrors.ErrInvalidStateTransition
	}
	return request, nil
}

func (s *ChangeRequestService) decide(ctx context.Context, request *models.ChangeRequest, status models.ChangeRequestStatus, actorID string, reason *string) (*models.ChangeRequest, error) {
	now := s.now().UTC()
	err := s.repo.Decide(ctx, repository.DecideChangeRequestParams{
		ID:         request.ID,
		Status:     status,
		ReviewedBy: actorID,
		ReviewedAt: now,
		Reason:     reason,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrInvalidStateTransition
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record decision")
	}
	request.Status = status
	request.ReviewedBy = &actorID
	request.ReviewedAt = &now
	request.Reason = reason
	if s.metrics != nil {
		s.metrics.ObserveDecision(string(status))
	}
	s.invalidateDemand(ctx)
	action := models.AuditActionRequestReview
	if status == models.ChangeRequestStatusCancelled {
		action = models.AuditActionRequestCancel
	}
	s.emitAudit(ctx, actorID, action, request)
	return request, nil
}

// rejectionReason maps enrollment-rule violations onto recorded rejection
// reasons. Internal failures are not rejections and propagate unchanged.
func rejectionReason(err error) (string, bool) {
	appErr := appErrors.FromError(err)
	switch appErr.Code {
	case appErrors.ErrGroupFull.Code,
		appErrors.ErrAlreadyEnrolled.Code,
		appErrors.ErrNotEnrolled.Code,
		appErrors.ErrScheduleConflict.Code:
		return appErr.Code, true
	}
	return "", false
}

func (s *ChangeRequestService) invalidateDemand(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateDemand(ctx); err != nil {
		s.logger.Warn("failed to invalidate demand cache", zap.Error(err))
	}
}

func (s *ChangeRequestService) emitAudit(ctx context.Context, userID, action string, request *models.ChangeRequest) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "change_request",
		ResourceID: &request.ID,
		IPAddress:  "system",
		UserAgent:  "change-request-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
