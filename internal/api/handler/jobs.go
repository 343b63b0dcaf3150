package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/logsift/internal/api/response"
	"github.com/kiranshivaraju/logsift/internal/ingest"
	"github.com/kiranshivaraju/logsift/internal/store"
	"github.com/kiranshivaraju/logsift/pkg/models"
)

// maxSubmissionBytes caps a job collection request body.
const maxSubmissionBytes = 10 << 20

// JobService is what the job endpoints need from the ingest layer.
type JobService interface {
	Submit(ctx context.Context, subs []models.JobSubmission) ([]*models.Job, error)
	GetJob(ctx context.Context, guid string) (*ingest.JobView, error)
}

type submittedJob struct {
	ID              string `json:"id"`
	GUID            string `json:"job_guid"`
	ProcessingState string `json:"processing_state"`
}

// NewSubmitJobsHandler returns an http.HandlerFunc for POST /api/v1/jobs.
// The body is a job collection; logs are processed later.
func NewSubmitJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxSubmissionBytes)

		var subs []models.JobSubmission
		if err := json.NewDecoder(r.Body).Decode(&subs); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
					"Job collection exceeds the size limit", nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Body must be a JSON array of jobs", nil)
			return
		}

		jobs, err := svc.Submit(r.Context(), subs)
		if err != nil {
			if errors.Is(err, ingest.ErrInvalidSubmission) {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
				return
			}
			slog.Error("job submission failed", "jobs", len(subs), "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		out := make([]submittedJob, len(jobs))
		for i, j := range jobs {
			out[i] = submittedJob{ID: j.ID.String(), GUID: j.GUID, ProcessingState: j.ProcessingState}
		}
		response.Accepted(w, out)
	}
}

type artifactRef struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Source string `json:"source"`
}

type jobResponse struct {
	Job           *models.Job            `json:"job"`
	LogReferences []*models.LogReference `json:"log_references"`
	Artifacts     []artifactRef          `json:"artifacts"`
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{guid}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, ok := loadJob(w, r, svc)
		if !ok {
			return
		}
		refs := make([]artifactRef, len(view.Artifacts))
		for i, a := range view.Artifacts {
			refs[i] = artifactRef{Name: a.Name, Type: a.Type, Source: a.Source}
		}
		logRefs := view.LogReferences
		if logRefs == nil {
			logRefs = []*models.LogReference{}
		}
		response.JSON(w, jobResponse{Job: view.Job, LogReferences: logRefs, Artifacts: refs})
	}
}

type artifactResponse struct {
	Name   string          `json:"name"`
	Type   string          `json:"type"`
	Source string          `json:"source"`
	Blob   json.RawMessage `json:"blob"`
}

// NewListArtifactsHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{guid}/artifacts. JSON blobs are embedded as written;
// anything else is returned as a string.
func NewListArtifactsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, ok := loadJob(w, r, svc)
		if !ok {
			return
		}
		out := make([]artifactResponse, len(view.Artifacts))
		for i, a := range view.Artifacts {
			out[i] = artifactResponse{Name: a.Name, Type: a.Type, Source: a.Source, Blob: rawBlob(a.Blob)}
		}
		response.Collection(w, out, map[string]any{
			"job_guid": view.Job.GUID,
			"count":    len(out),
		})
	}
}

func loadJob(w http.ResponseWriter, r *http.Request, svc JobService) (*ingest.JobView, bool) {
	guid := chi.URLParam(r, "guid")
	view, err := svc.GetJob(r.Context(), guid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Job not found", nil)
			return nil, false
		}
		slog.Error("loading job failed", "job_guid", guid, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
		return nil, false
	}
	return view, true
}

func rawBlob(blob []byte) json.RawMessage {
	if json.Valid(blob) {
		return json.RawMessage(blob)
	}
	quoted, _ := json.Marshal(string(blob))
	return quoted
}
