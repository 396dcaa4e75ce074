package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/uni-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/uni-enrollment-api/pkg/errors"
	"github.com/noah-isme/uni-enrollment-api/pkg/response"
)

type calendarService interface {
	IsOpen(ctx context.Context, termID string, at time.Time) (bool, error)
	OpenWindow(ctx context.Context, window *models.SubmissionWindow, actor *models.JWTClaims) (*models.SubmissionWindow, error)
}

// CalendarHandler manages submission windows.
type CalendarHandler struct {
	service calendarService
}

// NewCalendarHandler constructs the handler.
func NewCalendarHandler(service calendarService) *CalendarHandler {
	return &CalendarHandler{service: service}
}

// OpenWindow godoc
// @Summary Open a submission window for a term
// @Tags Calendar
// @Accept json
// @Produce json
// @Param payload body models.SubmissionWindow true "Window payload"
// @Success 201 {object} response.Envelope
// @Router /calendar/windows [post]
func (h *CalendarHandler) OpenWindow(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var window models.SubmissionWindow
	if err := c.ShouldBindJSON(&window); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid window payload"))
		return
	}
	created, err := h.service.OpenWindow(c.Request.Context(), &window, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, created, nil)
}

// WindowStatus godoc
// @Summary Check whether submissions are currently open
// @Tags Calendar
// @Produce json
// @Param termId query string true "Term ID"
// @Success 200 {object} response.Envelope
// @Router /calendar/windows/status [get]
func (h *CalendarHandler) WindowStatus(c *gin.Context) {
	termID := c.Query("termId")
	if termID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "termId required"))
		return
	}
	open, err := h.service.IsOpen(c.Request.Context(), termID, time.Now().UTC())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"termId": termID, "open": open}, nil)
}
