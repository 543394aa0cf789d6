package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskferry/internal/common"
	"github.com/ternarybob/taskferry/internal/interfaces"
	"github.com/ternarybob/taskferry/internal/models"
)

const downloadDateLayout = "2006-01-02"

// ExportRequest is the body of POST /api/export
type ExportRequest struct {
	APIToken           string `json:"apiToken" validate:"required"`
	OrganizationID     string `json:"organizationId" validate:"required"`
	ProjectID          string `json:"projectId" validate:"required"`
	ImportToLinear     bool   `json:"importToLinear"`
	LinearTeamID       string `json:"linearTeamId" validate:"required_if=ImportToLinear true"`
	LinearAPIKey       string `json:"linearApiKey" validate:"required_if=ImportToLinear true"`
	TestMode           bool   `json:"testMode"`
	SkipDuplicateCheck bool   `json:"skipDuplicateCheck"`
	OnlyNotDoneTasks   bool   `json:"onlyNotDoneTasks"`
}

// Submitter starts export jobs in the background
type Submitter interface {
	Submit(job *models.ExportJob) (string, error)
}

// ExportHandler serves the export control endpoints
type ExportHandler struct {
	submitter Submitter
	jobs      interfaces.JobRegistry
	results   interfaces.ResultStorage
	clock     common.Clock
	validate  *validator.Validate
	logger    arbor.ILogger
}

// NewExportHandler creates the export handler
func NewExportHandler(submitter Submitter, jobs interfaces.JobRegistry, results interfaces.ResultStorage, clock common.Clock, logger arbor.ILogger) *ExportHandler {
	if clock == nil {
		clock = common.SystemClock{}
	}
	return &ExportHandler{
		submitter: submitter,
		jobs:      jobs,
		results:   results,
		clock:     clock,
		validate:  newValidator(),
		logger:    logger,
	}
}

// newValidator reports field errors by their JSON names
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return fmt.Sprintf("Missing required field: %s", fieldErrs[0].Field())
	}
	return "Invalid request"
}

// CreateHandler handles POST /api/export
func (h *ExportHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.APIToken = strings.TrimSpace(req.APIToken)
	req.OrganizationID = strings.TrimSpace(req.OrganizationID)
	req.ProjectID = strings.TrimSpace(req.ProjectID)
	req.LinearTeamID = strings.TrimSpace(req.LinearTeamID)
	req.LinearAPIKey = strings.TrimSpace(req.LinearAPIKey)

	if err := h.validate.Struct(req); err != nil {
		WriteError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	job := &models.ExportJob{
		ProductiveToken: req.APIToken,
		LinearAPIKey:    req.LinearAPIKey,
		Options: models.ExportOptions{
			OrganizationID:     req.OrganizationID,
			ProjectID:          req.ProjectID,
			ImportToLinear:     req.ImportToLinear,
			LinearTeamID:       req.LinearTeamID,
			TestMode:           req.TestMode,
			SkipDuplicateCheck: req.SkipDuplicateCheck,
			OnlyNotDoneTasks:   req.OnlyNotDoneTasks,
		},
	}

	jobID, err := h.submitter.Submit(job)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to submit export job")
		WriteError(w, http.StatusInternalServerError, "Failed to start export")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"jobId": jobID})
}

// lookup resolves the {jobId} path parameter, writing 404 when unknown
func (h *ExportHandler) lookup(w http.ResponseWriter, r *http.Request) (*models.ExportJob, bool) {
	job, err := h.jobs.Get(chi.URLParam(r, "jobId"))
	if err != nil {
		WriteError(w, http.StatusNotFound, "Job not found")
		return nil, false
	}
	return job, true
}

// StatusHandler handles GET /api/export/{jobId}/status
func (h *ExportHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, job.StatusResponse())
}

// StopHandler handles POST /api/export/{jobId}/stop
func (h *ExportHandler) StopHandler(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if err := h.jobs.Stop(jobID); err != nil {
		WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	h.logger.Info().Str("job_id", jobID).Msg("Stop requested for export job")
	WriteSuccess(w)
}

// DownloadHandler handles GET /api/export/{jobId}/download
func (h *ExportHandler) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if job.Status != models.ExportStatusCompleted || job.ResultKey == "" {
		WriteError(w, http.StatusBadRequest, "Export is not completed")
		return
	}

	payload, err := h.results.GetResult(job.ResultKey)
	if err != nil {
		if errors.Is(err, interfaces.ErrResultNotFound) {
			WriteError(w, http.StatusNotFound, "Export result no longer available")
			return
		}
		h.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to read export result")
		WriteError(w, http.StatusInternalServerError, "Failed to read export result")
		return
	}

	filename := fmt.Sprintf("export_%s_%s.csv", job.Options.ProjectID, h.clock.Now().Format(downloadDateLayout))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(payload); err != nil {
		h.logger.Debug().Err(err).Str("job_id", job.ID).Msg("Download interrupted")
	}
}

// ListHandler handles GET /api/jobs
func (h *ExportHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	jobs := h.jobs.List()
	summaries := make([]models.JobSummary, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, job.Summary())
	}
	WriteJSON(w, http.StatusOK, summaries)
}

// HealthHandler handles GET /api/health
func (h *ExportHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// VersionHandler handles GET /api/version
func (h *ExportHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.Build,
		"commit":  common.GitCommit,
	})
}
