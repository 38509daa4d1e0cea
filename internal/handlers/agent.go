package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kestrelsec/sysmonfleet/internal/agentapi"
	"github.com/kestrelsec/sysmonfleet/internal/httputil"
	"github.com/kestrelsec/sysmonfleet/internal/models"
	"github.com/kestrelsec/sysmonfleet/internal/repository"
)

// Agent endpoints authenticate inside the service layer with per-host
// tokens. Credential failures come back as bare rejections so a probing
// caller learns nothing about which part of the credential was wrong.

// AgentRegisterHandler handles POST /api/v1/agent/register.
func (h *Handler) AgentRegisterHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.agents.Register(r.Context(), &req)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	if !resp.Accepted {
		httputil.WriteJSON(w, http.StatusUnauthorized, resp)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// AgentHeartbeatHandler handles POST /api/v1/agent/heartbeat.
func (h *Handler) AgentHeartbeatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req models.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.agents.Heartbeat(r.Context(), &req)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "heartbeat failed")
		return
	}
	if !resp.Registered {
		httputil.WriteJSON(w, http.StatusUnauthorized, resp)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// AgentResultsHandler handles POST /api/v1/agent/results.
func (h *Handler) AgentResultsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req models.SubmitResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.agents.SubmitResult(r.Context(), &req); err != nil {
		switch {
		case errors.Is(err, agentapi.ErrNotAuthorized):
			httputil.WriteError(w, http.StatusUnauthorized, "not authorized")
		case errors.Is(err, repository.ErrCommandNotFound):
			httputil.WriteError(w, http.StatusNotFound, "command not found")
		default:
			httputil.WriteError(w, http.StatusInternalServerError, "result submission failed")
		}
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
