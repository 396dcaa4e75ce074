package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-enrollment-api/internal/models"
	"github.com/noah-isme/uni-enrollment-api/pkg/storage"
)

type exportDataSourceStub struct {
	demand   []models.GroupDemand
	requests []models.ChangeRequest
}

func (s *exportDataSourceStub) CountsByTargetGroup(ctx context.Context, termID, facultyID string) ([]models.GroupDemand, error) {
	return s.demand, nil
}

func (s *exportDataSourceStub) List(ctx context.Context, filter models.ChangeRequestFilter) ([]models.ChangeRequest, error) {
	return s.requests, nil
}

func newExportFixture(t *testing.T) (*ExportService, *storage.LocalStorage, string) {
	t.Helper()
	dir := t.TempDir()
	files, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)

	source := &exportDataSourceStub{
		demand: []models.GroupDemand{
			{TargetGroupID: "g2", CourseCode: "CS201", GroupCode: "A", Pending: 3, Approved: 1, Rejected: 2, Cancelled: 1},
		},
		requests: []models.ChangeRequest{
			{
				ID:             "req-1",
				TrackingNumber: "RAD-20260202-0001",
				PriorityRank:   1,
				StudentID:      "s1",
				SourceGroupID:  "g1",
				TargetGroupID:  "g2",
				Status:         models.ChangeRequestStatusPending,
				CreatedAt:      time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC),
			},
		},
	}
	signer := storage.NewSignedURLSigner("export-test-secret", time.Hour)
	svc := NewExportService(source, files, signer, ExportConfig{APIPrefix: "/api/v1", ResultTTL: time.Hour}, nil, nil, nil)
	return svc, files, dir
}

func TestExportGenerateDemandCSV(t *testing.T) {
	svc, _, dir := newExportFixture(t)

	job := &models.ReportJob{
		ID:        "job-1",
		Type:      models.ReportTypeGroupDemand,
		Params:    models.ReportJobParams{TermID: "t1", Format: models.ReportFormatCSV},
		CreatedAt: time.Date(2026, 2, 2, 11, 0, 0, 0, time.UTC),
	}

	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, models.ReportFormatCSV, result.Format)
	require.Equal(t, "2026-02/job-1.csv", result.RelativePath)
	require.Contains(t, result.URL, "/api/v1/reports/jobs/job-1/download?token=")

	data, err := os.ReadFile(filepath.Join(dir, result.RelativePath))
	require.NoError(t, err)
	content := string(data)
	require.Contains(t, content, "Course,Group,Pending,Approved,Rejected,Cancelled")
	require.Contains(t, content, "CS201,A,3,1,2,1")

	jobID, relPath, _, err := svc.ParseToken(result.Token, false)
	require.NoError(t, err)
	require.Equal(t, "job-1", jobID)
	require.Equal(t, result.RelativePath, relPath)
}

func TestExportGenerateQueuePDF(t *testing.T) {
	svc, _, dir := newExportFixture(t)

	job := &models.ReportJob{
		ID:        "job-2",
		Type:      models.ReportTypeRequestQueue,
		Params:    models.ReportJobParams{TermID: "t1", Format: models.ReportFormatPDF},
		CreatedAt: time.Date(2026, 2, 2, 11, 0, 0, 0, time.UTC),
	}

	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(result.RelativePath, "job-2.pdf"))

	info, err := os.Stat(filepath.Join(dir, result.RelativePath))
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}

func TestExportGenerateRejectsUnknownFormat(t *testing.T) {
	svc, _, _ := newExportFixture(t)

	job := &models.ReportJob{
		ID:        "job-3",
		Type:      models.ReportTypeGroupDemand,
		Params:    models.ReportJobParams{TermID: "t1", Format: models.ReportFormat("xlsx")},
		CreatedAt: time.Now(),
	}
	_, err := svc.Generate(context.Background(), job)
	require.Error(t, err)
}

func TestExportOpenAndDelete(t *testing.T) {
	svc, _, _ := newExportFixture(t)

	job := &models.ReportJob{
		ID:        "job-4",
		Type:      models.ReportTypeGroupDemand,
		Params:    models.ReportJobParams{TermID: "t1", Format: models.ReportFormatCSV},
		CreatedAt: time.Now().UTC(),
	}
	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)

	file, err := svc.Open(result.RelativePath)
	require.NoError(t, err)
	require.NoError(t, file.Close())

	require.NoError(t, svc.Delete(result.RelativePath))
	_, err = svc.Open(result.RelativePath)
	require.Error(t, err)
}
