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
	appErrors "github.com/noah-isme/uni-enrollment-api/pkg/errors"
)

type groupStore interface {
	FindByID(ctx context.Context, id string) (*models.Group, error)
	AddMember(ctx context.Context, groupID, studentID string, joinedAt time.Time) error
	RemoveMember(ctx context.Context, groupID, studentID string) error
	Delete(ctx context.Context, id string) error
}

type enrollmentStore interface {
	Create(ctx context.Context, enrollment *models.Enrollment) error
	FindActive(ctx context.Context, studentID, groupID string) (*models.Enrollment, error)
	ActiveSlots(ctx context.Context, studentID, termID, excludeGroupID string) ([]models.ScheduleSlot, error)
	Retire(ctx context.Context, id string, leftAt time.Time) error
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// EnrollmentService is the only component allowed to mutate group rosters.
// Each check-then-act sequence runs under the target group's lock, so two
// concurrent enrollments cannot both take the last seat.
type EnrollmentService struct {
	groups      groupStore
	enrollments enrollmentStore
	students    studentReader
	audit       auditLogger
	locks       *keyedLocks
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(groups groupStore, enrollments enrollmentStore, students studentReader, audit auditLogger, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		groups:      groups,
		enrollments: enrollments,
		students:    students,
		audit:       audit,
		locks:       newKeyedLocks(),
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
	}
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.enrollments.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return enrollments, pagination, nil
}

// Enroll registers a student into a group for a term. Checks run in fixed
// order: capacity, duplicate membership, schedule conflict.
func (s *EnrollmentService) Enroll(ctx context.Context, req dto.EnrollRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "student inactive")
	}

	unlock := s.locks.Lock(req.GroupID)
	defer unlock()

	enrollment, err := s.enrollInGroupLocked(ctx, req.StudentID, req.GroupID, req.TermID, "")
	if err != nil {
		s.observeEnrollment("enroll", err)
		return nil, err
	}
	s.observeEnrollment("enroll", nil)
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &req.StudentID,
		Action:     models.AuditActionEnroll,
		Resource:   "group",
		ResourceID: &req.GroupID,
	})
	return enrollment, nil
}

// Drop removes a student from a group and retires the enrollment record.
func (s *EnrollmentService) Drop(ctx context.Context, req dto.DropRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid drop payload")
	}

	unlock := s.locks.Lock(req.GroupID)
	defer unlock()

	if err := s.dropFromGroupLocked(ctx, req.StudentID, req.GroupID); err != nil {
		s.observeEnrollment("drop", err)
		return err
	}
	s.observeEnrollment("drop", nil)
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &req.StudentID,
		Action:     models.AuditActionDrop,
		Resource:   "group",
		ResourceID: &req.GroupID,
	})
	return nil
}

// MoveStudent drops the student from the source group and enrolls them into
// the target group as one unit, holding both group locks for the duration.
// Any rule violation leaves both rosters untouched.
func (s *EnrollmentService) MoveStudent(ctx context.Context, studentID, sourceGroupID, targetGroupID, termID string) error {
	unlock := s.locks.LockPair(sourceGroupID, targetGroupID)
	defer unlock()

	source, err := s.loadGroup(ctx, sourceGroupID)
	if err != nil {
		return err
	}
	if !source.HasStudent(studentID) {
		return appErrors.ErrNotEnrolled
	}

	// Validate the destination before touching the source roster. The
	// source group's own slots are excluded from the conflict check since
	// the student is leaving it.
	target, err := s.loadGroup(ctx, targetGroupID)
	if err != nil {
		return err
	}
	if !target.HasCapacity() {
		return appErrors.ErrGroupFull
	}
	if target.HasStudent(studentID) {
		return appErrors.ErrAlreadyEnrolled
	}
	slots, err := s.enrollments.ActiveSlots(ctx, studentID, termID, sourceGroupID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load current schedule")
	}
	if target.ConflictsWith(slots) {
		return appErrors.ErrScheduleConflict
	}

	if err := s.dropFromGroupLocked(ctx, studentID, sourceGroupID); err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := s.groups.AddMember(ctx, targetGroupID, studentID, now); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update roster")
	}
	enrollment := &models.Enrollment{
		StudentID: studentID,
		GroupID:   targetGroupID,
		TermID:    termID,
		Marker:    models.MarkerOnTrack,
		Status:    models.EnrollmentStatusActive,
		JoinedAt:  now,
	}
	if err := s.enrollments.Create(ctx, enrollment); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment record")
	}
	return nil
}

// DeleteGroup removes a group after verifying, under the group's lock, that
// its roster is empty.
func (s *EnrollmentService) DeleteGroup(ctx context.Context, groupID string, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		return appErrors.ErrForbidden
	}

	unlock := s.locks.Lock(groupID)
	defer unlock()

	group, err := s.loadGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if len(group.Roster) > 0 {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "group roster is not empty")
	}
	if err := s.groups.Delete(ctx, groupID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete group")
	}
	return nil
}

// enrollInGroupLocked runs the capacity, duplicate and conflict checks and
// commits the roster insert. Callers must hold the group's lock.
func (s *EnrollmentService) enrollInGroupLocked(ctx context.Context, studentID, groupID, termID, excludeGroupID string) (*models.Enrollment, error) {
	group, err := s.loadGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !group.HasCapacity() {
		return nil, appErrors.ErrGroupFull
	}
	if group.HasStudent(studentID) {
		return nil, appErrors.ErrAlreadyEnrolled
	}
	slots, err := s.enrollments.ActiveSlots(ctx, studentID, termID, excludeGroupID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load current schedule")
	}
	if group.ConflictsWith(slots) {
		return nil, appErrors.ErrScheduleConflict
	}

	now := time.Now().UTC()
	if err := s.groups.AddMember(ctx, groupID, studentID, now); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update roster")
	}
	enrollment := &models.Enrollment{
		StudentID: studentID,
		GroupID:   groupID,
		TermID:    termID,
		Marker:    models.MarkerOnTrack,
		Status:    models.EnrollmentStatusActive,
		JoinedAt:  now,
	}
	if err := s.enrollments.Create(ctx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment record")
	}
	return enrollment, nil
}

// dropFromGroupLocked removes the roster row and retires the record.
// Callers must hold the group's lock.
func (s *EnrollmentService) dropFromGroupLocked(ctx context.Context, studentID, groupID string) error {
	enrollment, err := s.enrollments.FindActive(ctx, studentID, groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotEnrolled
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if err := s.groups.RemoveMember(ctx, groupID, studentID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update roster")
	}
	if err := s.enrollments.Retire(ctx, enrollment.ID, time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to retire enrollment record")
	}
	return nil
}

func (s *EnrollmentService) loadGroup(ctx context.Context, groupID string) (*models.Group, error) {
	group, err := s.groups.FindByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "group not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load group")
	}
	return group, nil
}

func (s *EnrollmentService) observeEnrollment(operation string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = appErrors.FromError(err).Code
	}
	s.metrics.ObserveEnrollment(operation, outcome)
}

func (s *EnrollmentService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = "enrollment-service"
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
