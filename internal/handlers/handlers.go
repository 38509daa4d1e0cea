// Package handlers provides HTTP request handlers for the sysmonfleet API.
package handlers

import (
	"net/http"
	"strings"

	"github.com/kestrelsec/sysmonfleet/internal/agentapi"
	"github.com/kestrelsec/sysmonfleet/internal/deploy"
	"github.com/kestrelsec/sysmonfleet/internal/httputil"
	"github.com/kestrelsec/sysmonfleet/internal/logging"
	"github.com/kestrelsec/sysmonfleet/internal/noise"
	"github.com/kestrelsec/sysmonfleet/internal/remote"
	"github.com/kestrelsec/sysmonfleet/internal/repository"
	"github.com/kestrelsec/sysmonfleet/internal/sysmonconfig"
)

// Handler provides HTTP handlers for the sysmonfleet service.
type Handler struct {
	deploy    *deploy.Service
	agents    *agentapi.Service
	analyzer  *noise.Analyzer
	configs   *sysmonconfig.Service
	repo      repository.Repository
	directory remote.DirectoryClient
	logger    *logging.Logger
}

// NewHandler creates a new Handler instance.
func NewHandler(deploySvc *deploy.Service, agents *agentapi.Service, analyzer *noise.Analyzer, configs *sysmonconfig.Service, repo repository.Repository, directory remote.DirectoryClient, logger *logging.Logger) *Handler {
	return &Handler{
		deploy:    deploySvc,
		agents:    agents,
		analyzer:  analyzer,
		configs:   configs,
		repo:      repo,
		directory: directory,
		logger:    logger,
	}
}

// extractIDFromPath extracts an ID from a URL path like /api/v1/jobs/{id}.
func extractIDFromPath(path, prefix string) string {
	remaining := strings.TrimPrefix(path, prefix)
	remaining = strings.TrimPrefix(remaining, "/")
	parts := strings.Split(remaining, "/")
	if len(parts) > 0 {
		return parts[0]
	}
	return ""
}

// HealthCheck handles GET /healthz.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "degraded",
			"service": "sysmonfleet",
		})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "sysmonfleet",
	})
}
