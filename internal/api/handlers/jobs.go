package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/dvloznov/finance-capture/internal/api/middleware"
	"github.com/dvloznov/finance-capture/internal/domain"
	"github.com/dvloznov/finance-capture/internal/jobs"
	"github.com/rs/zerolog"
)

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store      jobs.JobStore
	publisher  jobs.Publisher
	maxRetries int
	log        zerolog.Logger
}

// NewJobsHandler creates a new jobs handler. Jobs it enqueues get maxRetries
// retries, or jobs.DefaultMaxRetries when it is zero.
func NewJobsHandler(store jobs.JobStore, publisher jobs.Publisher, maxRetries int, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store:      store,
		publisher:  publisher,
		maxRetries: maxRetries,
		log:        log,
	}
}

// Enqueue handles POST /api/jobs
func (h *JobsHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var body captureBody
	if !decodeBody(w, r, &body) {
		return
	}

	if !body.Modality.Valid() {
		middleware.WriteError(w, http.StatusBadRequest, "modality must be one of text, image, audio")
		return
	}
	if body.Input == "" {
		middleware.WriteError(w, http.StatusBadRequest, "input is required")
		return
	}

	job := &jobs.ExtractJob{
		Modality:    body.Modality,
		Input:       body.Input,
		Language:    body.Language,
		HouseholdID: body.HouseholdID,
		UserID:      body.UserID,
		MaxRetries:  h.maxRetries,
	}

	if err := h.publisher.PublishExtract(r.Context(), job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue extract job")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue job")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Str("modality", string(job.Modality)).Msg("Extract job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(job.Status),
	})
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	job, err := h.store.GetJob(r.Context(), jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		HouseholdID: query.Get("household_id"),
		Modality:    domain.Modality(query.Get("modality")),
		Status:      jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
