package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/otcheredev/dicom-store/internal/jobs"
	"github.com/otcheredev/dicom-store/pkg/dicomerr"
)

type JobsHandler struct {
	engine *jobs.Engine
}

func NewJobsHandler(engine *jobs.Engine) *JobsHandler {
	return &JobsHandler{engine: engine}
}

// ListJobs returns the ids of every registered job
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.ListJobs())
}

// GetJob returns the full snapshot of one job
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, err := h.engine.GetJobInfo(id)
	if err != nil {
		writeJobError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// GetStatistics returns the per-state job counts
func (h *JobsHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.GetStatistics())
}

// PauseJob requests a pause at the next step boundary
func (h *JobsHandler) PauseJob(w http.ResponseWriter, r *http.Request) {
	h.applyAction(w, r, "pause", h.engine.Pause)
}

// ResumeJob puts a paused job back in the pending queue
func (h *JobsHandler) ResumeJob(w http.ResponseWriter, r *http.Request) {
	h.applyAction(w, r, "resume", h.engine.Resume)
}

// CancelJob cancels a job, cooperatively when it is running
func (h *JobsHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	h.applyAction(w, r, "cancel", h.engine.Cancel)
}

// ResubmitJob reschedules a failed job from scratch
func (h *JobsHandler) ResubmitJob(w http.ResponseWriter, r *http.Request) {
	h.applyAction(w, r, "resubmit", h.engine.Resubmit)
}

// SetPriority changes the queue priority of a job
func (h *JobsHandler) SetPriority(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Priority *int `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Priority == nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.engine.SetPriority(id, *body.Priority); err != nil {
		writeJobError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *JobsHandler) applyAction(w http.ResponseWriter, r *http.Request, action string, fn func(string) error) {
	id := chi.URLParam(r, "id")
	if err := fn(id); err != nil {
		log.Warn().
			Str("component", "handlers").
			Str("job_id", id).
			Str("action", action).
			Err(err).
			Msg("Job action failed")
		writeJobError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeJobError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, dicomerr.ErrUnknownResource):
		http.Error(w, "Unknown job "+id, http.StatusNotFound)
	case errors.Is(err, dicomerr.ErrBadSequenceOfCalls):
		http.Error(w, "Job "+id+" is not in a compatible state", http.StatusConflict)
	default:
		http.Error(w, "Job operation failed", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
