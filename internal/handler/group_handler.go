package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/uni-enrollment-api/internal/dto"
	"github.com/noah-isme/uni-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/uni-enrollment-api/pkg/errors"
	"github.com/noah-isme/uni-enrollment-api/pkg/response"
)

type groupService interface {
	Create(ctx context.Context, req dto.CreateGroupRequest, actor *models.JWTClaims) (*models.Group, error)
	Get(ctx context.Context, id string) (*models.Group, error)
	List(ctx context.Context, filter models.GroupFilter) ([]models.GroupDetail, *models.Pagination, error)
}

type groupRemover interface {
	DeleteGroup(ctx context.Context, groupID string, actor *models.JWTClaims) error
}

// GroupHandler exposes course section endpoints. Deletion goes through the
// coordinator so the empty-roster precondition holds under concurrency.
type GroupHandler struct {
	service groupService
	remover groupRemover
}

// NewGroupHandler constructs the handler.
func NewGroupHandler(service groupService, remover groupRemover) *GroupHandler {
	return &GroupHandler{service: service, remover: remover}
}

// Create godoc
// @Summary Create a group
// @Tags Groups
// @Accept json
// @Produce json
// @Param payload body dto.CreateGroupRequest true "Group payload"
// @Success 201 {object} response.Envelope
// @Router /groups [post]
func (h *GroupHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid group payload"))
		return
	}
	group, err := h.service.Create(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, group, nil)
}

// List godoc
// @Summary List groups
// @Tags Groups
// @Produce json
// @Param courseId query string false "Course ID"
// @Param termId query string false "Term ID"
// @Param facultyId query string false "Faculty ID"
// @Success 200 {object} response.Envelope
// @Router /groups [get]
func (h *GroupHandler) List(c *gin.Context) {
	filter := models.GroupFilter{
		CourseID:  strings.TrimSpace(c.Query("courseId")),
		TermID:    strings.TrimSpace(c.Query("termId")),
		FacultyID: strings.TrimSpace(c.Query("facultyId")),
		SortBy:    strings.TrimSpace(c.Query("sortBy")),
		SortOrder: strings.TrimSpace(c.Query("sortOrder")),
	}
	if raw := c.Query("page"); raw != "" {
		if page, err := strconv.Atoi(raw); err == nil {
			filter.Page = page
		}
	}
	if raw := c.Query("pageSize"); raw != "" {
		if size, err := strconv.Atoi(raw); err == nil {
			filter.PageSize = size
		}
	}

	groups, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, groups, pagination)
}

// Get godoc
// @Summary Get group detail with roster and slots
// @Tags Groups
// @Produce json
// @Param id path string true "Group ID"
// @Success 200 {object} response.Envelope
// @Router /groups/{id} [get]
func (h *GroupHandler) Get(c *gin.Context) {
	group, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, group, nil)
}

// Delete godoc
// @Summary Delete an empty group
// @Tags Groups
// @Produce json
// @Param id path string true "Group ID"
// @Success 204 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /groups/{id} [delete]
func (h *GroupHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.remover.DeleteGroup(c.Request.Context(), c.Param("id"), claims); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
