package service

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/uni-enrollment-api/internal/models"
	"github.com/noah-isme/uni-enrollment-api/pkg/export"
	"github.com/noah-isme/uni-enrollment-api/pkg/storage"
)

type exportDataSource interface {
	CountsByTargetGroup(ctx context.Context, termID, facultyID string) ([]models.GroupDemand, error)
	List(ctx context.Context, filter models.ChangeRequestFilter) ([]models.ChangeRequest, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export generation behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures metadata of a successfully generated export.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

// ExportService builds demand and queue datasets and renders them to files.
type ExportService struct {
	requests exportDataSource
	storage  fileStorage
	csv      csvRenderer
	pdf      pdfRenderer
	signer   *storage.SignedURLSigner
	logger   *zap.Logger
	cfg      ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(requests exportDataSource, files fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		requests: requests,
		storage:  files,
		csv:      csv,
		pdf:      pdf,
		signer:   signer,
		logger:   logger,
		cfg:      cfg,
	}
}

// Generate builds the dataset for a job and stores the rendered export.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job is nil")
	}
	dataset, title, err := s.buildDataset(ctx, job)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Params.Format {
	case models.ReportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ReportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("%s/%s.%s", job.CreatedAt.UTC().Format("2006-01"), job.ID, job.Params.Format)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/reports/jobs/%s/download?token=%s", s.cfg.APIPrefix, job.ID, token),
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates a signed download token.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a read handle for a stored export file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes stored exports older than the TTL.
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildDataset(ctx context.Context, job *models.ReportJob) (export.Dataset, string, error) {
	switch job.Type {
	case models.ReportTypeGroupDemand:
		return s.buildDemandDataset(ctx, job.Params)
	case models.ReportTypeRequestQueue:
		return s.buildQueueDataset(ctx, job.Params)
	default:
		return export.Dataset{}, "", fmt.Errorf("unsupported report type %s", job.Type)
	}
}

func (s *ExportService) buildDemandDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, string, error) {
	facultyID := ""
	if params.FacultyID != nil {
		facultyID = *params.FacultyID
	}
	demand, err := s.requests.CountsByTargetGroup(ctx, params.TermID, facultyID)
	if err != nil {
		return export.Dataset{}, "", err
	}
	dataset := export.Dataset{
		Headers: []string{"Course", "Group", "Pending", "Approved", "Rejected", "Cancelled"},
	}
	for _, row := range demand {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Course":    row.CourseCode,
			"Group":     row.GroupCode,
			"Pending":   strconv.Itoa(row.Pending),
			"Approved":  strconv.Itoa(row.Approved),
			"Rejected":  strconv.Itoa(row.Rejected),
			"Cancelled": strconv.Itoa(row.Cancelled),
		})
	}
	return dataset, "Group Demand", nil
}

func (s *ExportService) buildQueueDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, string, error) {
	filter := models.ChangeRequestFilter{
		Status: []models.ChangeRequestStatus{models.ChangeRequestStatusPending},
		TermID: params.TermID,
		Limit:  500,
	}
	if params.FacultyID != nil {
		filter.FacultyID = *params.FacultyID
	}
	if params.TargetGroupID != nil {
		filter.TargetGroupID = *params.TargetGroupID
	}
	requests, err := s.requests.List(ctx, filter)
	if err != nil {
		return export.Dataset{}, "", err
	}
	dataset := export.Dataset{
		Headers: []string{"Rank", "Tracking Number", "Student", "Source Group", "Target Group", "Submitted"},
	}
	for _, req := range requests {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Rank":            strconv.FormatInt(req.PriorityRank, 10),
			"Tracking Number": req.TrackingNumber,
			"Student":         req.StudentID,
			"Source Group":    req.SourceGroupID,
			"Target Group":    req.TargetGroupID,
			"Submitted":       req.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return dataset, "Pending Request Queue", nil
}
