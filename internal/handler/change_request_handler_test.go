package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-enrollment-api/internal/dto"
	"github.com/noah-isme/uni-enrollment-api/internal/middleware"
	"github.com/noah-isme/uni-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/uni-enrollment-api/pkg/errors"
)

type changeRequestServiceMock struct {
	submitResp *models.ChangeRequest
	submitErr  error
	listQuery  dto.ChangeRequestQuery
	queueErr   error
}

func (m *changeRequestServiceMock) Submit(ctx context.Context, req dto.SubmitChangeRequest, actor *models.JWTClaims) (*models.ChangeRequest, error) {
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	return m.submitResp, nil
}

func (m *changeRequestServiceMock) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.ChangeRequest, error) {
	return &models.ChangeRequest{ID: id}, nil
}

func (m *changeRequestServiceMock) GetByTracking(ctx context.Context, trackingNumber string, actor *models.JWTClaims) (*models.ChangeRequest, error) {
	return &models.ChangeRequest{TrackingNumber: trackingNumber}, nil
}

func (m *changeRequestServiceMock) List(ctx context.Context, query dto.ChangeRequestQuery, actor *models.JWTClaims) ([]models.ChangeRequest, error) {
	m.listQuery = query
	return nil, nil
}

func (m *changeRequestServiceMock) Queue(ctx context.Context, targetGroupID string, actor *models.JWTClaims) ([]models.ChangeRequest, error) {
	if m.queueErr != nil {
		return nil, m.queueErr
	}
	return []models.ChangeRequest{}, nil
}

func (m *changeRequestServiceMock) Approve(ctx context.Context, id string, actor *models.JWTClaims) (*models.ChangeRequest, error) {
	return &models.ChangeRequest{ID: id, Status: models.ChangeRequestStatusApproved}, nil
}

func (m *changeRequestServiceMock) Reject(ctx context.Context, id string, req dto.RejectChangeRequest, actor *models.JWTClaims) (*models.ChangeRequest, error) {
	return &models.ChangeRequest{ID: id, Status: models.ChangeRequestStatusRejected}, nil
}

func (m *changeRequestServiceMock) Cancel(ctx context.Context, id string, actor *models.JWTClaims) (*models.ChangeRequest, error) {
	return &models.ChangeRequest{ID: id, Status: models.ChangeRequestStatusCancelled}, nil
}

func studentContext(w *httptest.ResponseRecorder) (*gin.Context, *models.JWTClaims) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(w)
	claims := &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}
	c.Set(middleware.ContextUserKey, claims)
	return c, claims
}

func TestChangeRequestHandlerSubmit(t *testing.T) {
	mock := &changeRequestServiceMock{submitResp: &models.ChangeRequest{
		ID:             "req-1",
		TrackingNumber: "RAD-20260202-0001",
		Status:         models.ChangeRequestStatusPending,
	}}
	handler := NewChangeRequestHandler(mock)

	w := httptest.NewRecorder()
	c, _ := studentContext(w)
	body, _ := json.Marshal(dto.SubmitChangeRequest{
		TermID:         "t1",
		SourceCourseID: "c1",
		SourceGroupID:  "g1",
		TargetCourseID: "c2",
		TargetGroupID:  "g2",
		Justification:  "timetable clash",
	})
	req, _ := http.NewRequest(http.MethodPost, "/change-requests", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Submit(c)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Contains(t, w.Body.String(), "RAD-20260202-0001")
}

func TestChangeRequestHandlerSubmitInvalidBody(t *testing.T) {
	handler := NewChangeRequestHandler(&changeRequestServiceMock{})

	w := httptest.NewRecorder()
	c, _ := studentContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/change-requests", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Submit(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChangeRequestHandlerSubmitWindowClosed(t *testing.T) {
	handler := NewChangeRequestHandler(&changeRequestServiceMock{submitErr: appErrors.ErrSubmissionWindowClosed})

	w := httptest.NewRecorder()
	c, _ := studentContext(w)
	body, _ := json.Marshal(dto.SubmitChangeRequest{
		TermID:         "t1",
		SourceCourseID: "c1",
		SourceGroupID:  "g1",
		TargetCourseID: "c2",
		TargetGroupID:  "g2",
		Justification:  "timetable clash",
	})
	req, _ := http.NewRequest(http.MethodPost, "/change-requests", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Submit(c)
	require.Equal(t, http.StatusPreconditionFailed, w.Code)
	require.Contains(t, w.Body.String(), "SUBMISSION_WINDOW_CLOSED")
}

func TestChangeRequestHandlerListParsesStatuses(t *testing.T) {
	mock := &changeRequestServiceMock{}
	handler := NewChangeRequestHandler(mock)

	w := httptest.NewRecorder()
	c, _ := studentContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/change-requests?status=pending,%20approved&limit=10&offset=5", nil)
	c.Request = req

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []models.ChangeRequestStatus{
		models.ChangeRequestStatusPending,
		models.ChangeRequestStatusApproved,
	}, mock.listQuery.Status)
	require.Equal(t, 10, mock.listQuery.Limit)
	require.Equal(t, 5, mock.listQuery.Offset)
}

func TestChangeRequestHandlerQueueForbidden(t *testing.T) {
	handler := NewChangeRequestHandler(&changeRequestServiceMock{queueErr: appErrors.ErrForbidden})

	w := httptest.NewRecorder()
	c, _ := studentContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/groups/g2/queue", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "g2"}}

	handler.Queue(c)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestChangeRequestHandlerMissingClaims(t *testing.T) {
	handler := NewChangeRequestHandler(&changeRequestServiceMock{})

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/change-requests/req-1/cancel", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}

	handler.Cancel(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
