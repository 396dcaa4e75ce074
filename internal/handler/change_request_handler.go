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

type changeRequestService interface {
	Submit(ctx context.Context, req dto.SubmitChangeRequest, actor *models.JWTClaims) (*models.ChangeRequest, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.ChangeRequest, error)
	GetByTracking(ctx context.Context, trackingNumber string, actor *models.JWTClaims) (*models.ChangeRequest, error)
	List(ctx context.Context, query dto.ChangeRequestQuery, actor *models.JWTClaims) ([]models.ChangeRequest, error)
	Queue(ctx context.Context, targetGroupID string, actor *models.JWTClaims) ([]models.ChangeRequest, error)
	Approve(ctx context.Context, id string, actor *models.JWTClaims) (*models.ChangeRequest, error)
	Reject(ctx context.Context, id string, req dto.RejectChangeRequest, actor *models.JWTClaims) (*models.ChangeRequest, error)
	Cancel(ctx context.Context, id string, actor *models.JWTClaims) (*models.ChangeRequest, error)
}

// ChangeRequestHandler exposes REST endpoints for the request lifecycle.
type ChangeRequestHandler struct {
	service changeRequestService
}

// NewChangeRequestHandler constructs the handler.
func NewChangeRequestHandler(service changeRequestService) *ChangeRequestHandler {
	return &ChangeRequestHandler{service: service}
}

// Submit godoc
// @Summary Submit a group change request
// @Tags ChangeRequests
// @Accept json
// @Produce json
// @Param payload body dto.SubmitChangeRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Router /change-requests [post]
func (h *ChangeRequestHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.SubmitChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid change request payload"))
		return
	}
	request, err := h.service.Submit(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, request, nil)
}

// List godoc
// @Summary List change requests
// @Tags ChangeRequests
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param targetGroupId query string false "Destination group"
// @Param termId query string false "Term ID"
// @Success 200 {object} response.Envelope
// @Router /change-requests [get]
func (h *ChangeRequestHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	query := dto.ChangeRequestQuery{
		TargetGroupID: strings.TrimSpace(c.Query("targetGroupId")),
		TermID:        strings.TrimSpace(c.Query("termId")),
	}
	if rawStatus := c.Query("status"); rawStatus != "" {
		parts := strings.Split(rawStatus, ",")
		statuses := make([]models.ChangeRequestStatus, 0, len(parts))
		for _, part := range parts {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			statuses = append(statuses, models.ChangeRequestStatus(part))
		}
		query.Status = statuses
	}
	if raw := c.Query("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil {
			query.Limit = limit
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if offset, err := strconv.Atoi(raw); err == nil {
			query.Offset = offset
		}
	}
	requests, err := h.service.List(c.Request.Context(), query, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil)
}

// Get godoc
// @Summary Get change request detail
// @Tags ChangeRequests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /change-requests/{id} [get]
func (h *ChangeRequestHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Track godoc
// @Summary Look up a request by its tracking number
// @Tags ChangeRequests
// @Produce json
// @Param trackingNumber path string true "Tracking number"
// @Success 200 {object} response.Envelope
// @Router /tracking/{trackingNumber} [get]
func (h *ChangeRequestHandler) Track(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.service.GetByTracking(c.Request.Context(), c.Param("trackingNumber"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Queue godoc
// @Summary Pending requests for a destination group
// @Tags ChangeRequests
// @Produce json
// @Param id path string true "Target group ID"
// @Success 200 {object} response.Envelope
// @Router /groups/{id}/queue [get]
func (h *ChangeRequestHandler) Queue(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	requests, err := h.service.Queue(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil)
}

// Approve godoc
// @Summary Approve a pending change request
// @Tags ChangeRequests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /change-requests/{id}/approve [post]
func (h *ChangeRequestHandler) Approve(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.service.Approve(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Reject godoc
// @Summary Reject a pending change request
// @Tags ChangeRequests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.RejectChangeRequest true "Rejection reason"
// @Success 200 {object} response.Envelope
// @Router /change-requests/{id}/reject [post]
func (h *ChangeRequestHandler) Reject(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.RejectChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "rejection reason required"))
		return
	}
	request, err := h.service.Reject(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Cancel godoc
// @Summary Cancel an own pending change request
// @Tags ChangeRequests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /change-requests/{id}/cancel [post]
func (h *ChangeRequestHandler) Cancel(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.service.Cancel(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}
