package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/kestrelsec/sysmonfleet/internal/httputil"
	"github.com/kestrelsec/sysmonfleet/internal/models"
	"github.com/kestrelsec/sysmonfleet/internal/noise"
	"github.com/kestrelsec/sysmonfleet/internal/repository"
)

// AnalyzeHandler handles POST /api/v1/noise/analyze.
func (h *Handler) AnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req models.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	run, results, err := h.analyzer.AnalyzeHost(r.Context(), req.HostID, req.Hours)
	if err != nil {
		writeAnalysisError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.RunWithResults{Run: run, Results: results})
}

// CompareHandler handles POST /api/v1/noise/compare.
func (h *Handler) CompareHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req models.CompareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	report, err := h.analyzer.CompareHosts(r.Context(), req.HostIDs, req.Hours)
	if err != nil {
		writeAnalysisError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

// writeAnalysisError maps analyzer errors onto status codes: 404 for a
// missing host, 400 for request validation, 502 for an event store or
// repository fault.
func writeAnalysisError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrHostNotFound):
		httputil.WriteError(w, http.StatusNotFound, "host not found")
	case errors.Is(err, noise.ErrInvalidTimeRange),
		errors.Is(err, noise.ErrUnknownRole),
		errors.Is(err, noise.ErrNoHostsSelected):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		httputil.WriteError(w, http.StatusBadGateway, "event analysis failed")
	}
}

// NoiseRunHandler routes /api/v1/noise/runs/{id} and its exclusions
// sub-route.
func (h *Handler) NoiseRunHandler(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/exclusions") {
		h.ExclusionsHandler(w, r)
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/v1/noise/runs")
	if id == "" {
		httputil.WriteError(w, http.StatusBadRequest, "run id required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		run, results, err := h.analyzer.GetRun(r.Context(), id)
		if err != nil {
			if errors.Is(err, repository.ErrRunNotFound) {
				httputil.WriteError(w, http.StatusNotFound, "noise run not found")
				return
			}
			httputil.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, models.RunWithResults{Run: run, Results: results})
	case http.MethodDelete:
		if err := h.analyzer.DeleteRun(r.Context(), id); err != nil {
			if errors.Is(err, repository.ErrRunNotFound) {
				httputil.WriteError(w, http.StatusNotFound, "noise run not found")
				return
			}
			httputil.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// ExclusionsHandler handles GET /api/v1/noise/runs/{id}/exclusions.
func (h *Handler) ExclusionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := extractIDFromPath(r.URL.Path, "/api/v1/noise/runs")
	if id == "" {
		httputil.WriteError(w, http.StatusBadRequest, "run id required")
		return
	}

	minScore := 0.0
	if raw := r.URL.Query().Get("min_score"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			httputil.WriteError(w, http.StatusBadRequest, "invalid min_score")
			return
		}
		minScore = v
	}

	_, results, err := h.analyzer.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrRunNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "noise run not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	xml, err := noise.GenerateExclusionXML(results, minScore, noise.MustDefaultFieldTable())
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(xml))
}

// NoiseHistoryHandler handles GET /api/v1/noise/history.
func (h *Handler) NoiseHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httputil.WriteError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	runs, err := h.analyzer.History(r.Context(), r.URL.Query().Get("host_id"), limit)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// ThresholdsHandler handles GET /api/v1/noise/thresholds/{role}.
func (h *Handler) ThresholdsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	role := extractIDFromPath(r.URL.Path, "/api/v1/noise/thresholds")

	thresholds, err := noise.ThresholdsForRole(role)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"role":       role,
		"thresholds": thresholds,
	})
}

// NoisePurgeHandler handles POST /api/v1/noise/purge.
func (h *Handler) NoisePurgeHandler(w http.ResponseWriter, r *http.Request) {
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

	deleted, err := h.analyzer.PurgeRuns(r.Context(), req.Days)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.PurgeResponse{RunsDeleted: deleted})
}
