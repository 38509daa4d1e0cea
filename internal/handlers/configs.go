package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/kestrelsec/sysmonfleet/internal/httputil"
	"github.com/kestrelsec/sysmonfleet/internal/models"
	"github.com/kestrelsec/sysmonfleet/internal/repository"
)

// ConfigsHandler handles /api/v1/configs.
func (h *Handler) ConfigsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.ListConfigs(w, r)
	case http.MethodPost:
		h.CreateConfig(w, r)
	default:
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// CreateConfig handles POST /api/v1/configs. The body carries either
// inline XML content or a URL to import from.
func (h *Handler) CreateConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Content string `json:"content,omitempty"`
		URL     string `json:"url,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		cfg *models.SysmonConfig
		err error
	)
	switch {
	case req.URL != "":
		cfg, err = h.configs.ImportFromURL(r.Context(), req.Name, req.URL)
	case req.Content != "":
		cfg, err = h.configs.Create(r.Context(), req.Name, req.Content)
	default:
		httputil.WriteError(w, http.StatusBadRequest, "content or url required")
		return
	}
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, cfg)
}

// ListConfigs handles GET /api/v1/configs.
func (h *Handler) ListConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.configs.List(r.Context())
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"configs": configs,
		"count":   len(configs),
	})
}

// ConfigHandler routes /api/v1/configs/{id} and its exclusions sub-route.
func (h *Handler) ConfigHandler(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/exclusions") {
		h.AddConfigExclusionHandler(w, r)
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/v1/configs")
	if id == "" {
		httputil.WriteError(w, http.StatusBadRequest, "config id required")
		return
	}
	if r.Method != http.MethodGet {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	cfg, err := h.configs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrConfigNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "sysmon config not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cfg)
}

// AddConfigExclusionHandler handles POST /api/v1/configs/{id}/exclusions.
func (h *Handler) AddConfigExclusionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := extractIDFromPath(r.URL.Path, "/api/v1/configs")
	if id == "" {
		httputil.WriteError(w, http.StatusBadRequest, "config id required")
		return
	}

	var req models.AddExclusionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg, err := h.configs.AddExclusion(r.Context(), id, req.EventID, req.FieldName, req.Value, req.Condition)
	if err != nil {
		if errors.Is(err, repository.ErrConfigNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "sysmon config not found")
			return
		}
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cfg)
}
