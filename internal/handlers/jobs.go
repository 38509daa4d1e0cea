package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/kestrelsec/sysmonfleet/internal/auth"
	"github.com/kestrelsec/sysmonfleet/internal/deploy"
	"github.com/kestrelsec/sysmonfleet/internal/httputil"
	"github.com/kestrelsec/sysmonfleet/internal/models"
	"github.com/kestrelsec/sysmonfleet/internal/repository"
)

// JobsHandler handles /api/v1/jobs.
func (h *Handler) JobsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.CreateJob(w, r)
	case http.MethodGet:
		h.ListJobs(w, r)
	default:
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// JobHandler handles /api/v1/jobs/{id}.
func (h *Handler) JobHandler(w http.ResponseWriter, r *http.Request) {
	id := extractIDFromPath(r.URL.Path, "/api/v1/jobs")
	if id == "" {
		httputil.WriteError(w, http.StatusBadRequest, "job id required")
		return
	}
	if r.Method != http.MethodGet {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	job, err := h.deploy.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "job not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, job)
}

// CreateJob handles POST /api/v1/jobs.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req models.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.deploy.CreateJob(r.Context(), &req, auth.UserID(r.Context()))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrHostNotFound),
			errors.Is(err, repository.ErrConfigNotFound),
			errors.Is(err, models.ErrUnknownOperation),
			errors.Is(err, deploy.ErrNoHosts),
			errors.Is(err, deploy.ErrConfigRequired):
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
		default:
			httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, job)
}

// ListJobs handles GET /api/v1/jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httputil.WriteError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	jobs, err := h.deploy.ListJobs(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// CancelJobHandler handles POST /api/v1/jobs/{id}/cancel.
func (h *Handler) CancelJobHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := extractIDFromPath(r.URL.Path, "/api/v1/jobs")
	if id == "" {
		httputil.WriteError(w, http.StatusBadRequest, "job id required")
		return
	}

	job, err := h.deploy.CancelJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "job not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, job)
}

// PurgeJobsHandler handles POST /api/v1/jobs/purge.
func (h *Handler) PurgeJobsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Days int `json:"days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.deploy.PurgeJobs(r.Context(), req.Days)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// SchedulesHandler handles /api/v1/schedules.
func (h *Handler) SchedulesHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.CreateScheduledJob(w, r)
	case http.MethodGet:
		h.ListScheduledJobs(w, r)
	default:
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// CreateScheduledJob handles POST /api/v1/schedules.
func (h *Handler) CreateScheduledJob(w http.ResponseWriter, r *http.Request) {
	var req models.CreateScheduledJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sched, err := h.deploy.CreateScheduledJob(r.Context(), &req, auth.UserID(r.Context()))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnknownOperation),
			errors.Is(err, deploy.ErrNoHosts),
			errors.Is(err, deploy.ErrConfigRequired),
			errors.Is(err, deploy.ErrRunAtPast):
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
		default:
			httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, sched)
}

// ListScheduledJobs handles GET /api/v1/schedules.
func (h *Handler) ListScheduledJobs(w http.ResponseWriter, r *http.Request) {
	scheds, err := h.deploy.ListScheduledJobs(r.Context())
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"schedules": scheds,
		"count":     len(scheds),
	})
}

// ScheduleHandler handles DELETE /api/v1/schedules/{id}.
func (h *Handler) ScheduleHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := extractIDFromPath(r.URL.Path, "/api/v1/schedules")
	if id == "" {
		httputil.WriteError(w, http.StatusBadRequest, "schedule id required")
		return
	}

	if err := h.deploy.CancelScheduledJob(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrScheduleNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "scheduled job not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
