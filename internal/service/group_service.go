package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/uni-enrollment-api/internal/dto"
	"github.com/noah-isme/uni-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/uni-enrollment-api/pkg/errors"
)

type groupAdminStore interface {
	Create(ctx context.Context, group *models.Group) error
	FindByID(ctx context.Context, id string) (*models.Group, error)
	List(ctx context.Context, filter models.GroupFilter) ([]models.GroupDetail, int, error)
	Delete(ctx context.Context, id string) error
}

// GroupService manages course sections: creation, occupancy queries and
// administrative deletion. Roster mutation stays with EnrollmentService.
type GroupService struct {
	repo      groupAdminStore
	courses   courseReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewGroupService constructs GroupService.
func NewGroupService(repo groupAdminStore, courses courseReader, validate *validator.Validate, logger *zap.Logger) *GroupService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GroupService{repo: repo, courses: courses, validator: validate, logger: logger}
}

// Create registers a new group after validating capacity and slots.
func (s *GroupService) Create(ctx context.Context, req dto.CreateGroupRequest, actor *models.JWTClaims) (*models.Group, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid group payload")
	}
	if _, err := s.courses.FindByID(ctx, req.CourseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	group := &models.Group{
		CourseID:     req.CourseID,
		TermID:       req.TermID,
		Code:         req.Code,
		Capacity:     req.Capacity,
		InstructorID: req.InstructorID,
	}
	if err := group.Validate(); err != nil {
		return nil, err
	}
	for _, payload := range req.Slots {
		slot, err := models.NewScheduleSlot(models.DayOfWeek(strings.ToUpper(payload.Day)), payload.StartMinute, payload.EndMinute)
		if err != nil {
			return nil, err
		}
		group.Slots = append(group.Slots, slot)
	}
	if err := s.repo.Create(ctx, group); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create group")
	}
	return group, nil
}

// Get loads a group with its occupancy.
func (s *GroupService) Get(ctx context.Context, id string) (*models.Group, error) {
	group, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "group not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load group")
	}
	return group, nil
}

// List returns groups with pagination metadata.
func (s *GroupService) List(ctx context.Context, filter models.GroupFilter) ([]models.GroupDetail, *models.Pagination, error) {
	groups, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list groups")
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
	return groups, pagination, nil
}
