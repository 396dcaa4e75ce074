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

type enrollmentService interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error)
	Enroll(ctx context.Context, req dto.EnrollRequest) (*models.Enrollment, error)
	Drop(ctx context.Context, req dto.DropRequest) error
}

// EnrollmentHandler exposes roster endpoints.
type EnrollmentHandler struct {
	service enrollmentService
}

// NewEnrollmentHandler constructs the handler.
func NewEnrollmentHandler(service enrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{service: service}
}

// List godoc
// @Summary List enrollments
// @Tags Enrollments
// @Produce json
// @Param studentId query string false "Student ID"
// @Param groupId query string false "Group ID"
// @Param termId query string false "Term ID"
// @Param status query string false "Enrollment status"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	filter := models.EnrollmentFilter{
		StudentID: strings.TrimSpace(c.Query("studentId")),
		GroupID:   strings.TrimSpace(c.Query("groupId")),
		TermID:    strings.TrimSpace(c.Query("termId")),
	}
	if raw := c.Query("status"); raw != "" {
		filter.Status = models.EnrollmentStatus(strings.ToUpper(strings.TrimSpace(raw)))
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

	enrollments, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// Enroll godoc
// @Summary Enroll a student into a group
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body dto.EnrollRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	var req dto.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid enrollment payload"))
		return
	}
	enrollment, err := h.service.Enroll(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, enrollment, nil)
}

// Drop godoc
// @Summary Drop a student from a group
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body dto.DropRequest true "Drop payload"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments [delete]
func (h *EnrollmentHandler) Drop(c *gin.Context) {
	var req dto.DropRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid drop payload"))
		return
	}
	if err := h.service.Drop(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
