package handlers

import (
	"net/http"

	"github.com/kestrelsec/sysmonfleet/internal/httputil"
	"github.com/kestrelsec/sysmonfleet/internal/models"
)

// HostsHandler handles GET /api/v1/hosts.
func (h *Handler) HostsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	hosts, err := h.repo.ListHosts(r.Context())
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"hosts": hosts,
		"count": len(hosts),
	})
}

// DiscoverHostsHandler handles POST /api/v1/hosts/discover. It enumerates
// the directory and upserts every computer found.
func (h *Handler) DiscoverHostsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.directory == nil || !h.directory.IsAvailable() {
		httputil.WriteError(w, http.StatusServiceUnavailable, "capability unavailable: directory enumeration")
		return
	}

	computers, err := h.directory.ListComputers(r.Context())
	if err != nil {
		httputil.WriteError(w, http.StatusBadGateway, "directory enumeration failed: "+err.Error())
		return
	}

	discovered := make([]*models.Host, 0, len(computers))
	for _, c := range computers {
		host, err := h.repo.UpsertDiscoveredHost(r.Context(), c.Hostname, c.DistinguishedName, c.OS)
		if err != nil {
			h.logger.Error("failed to upsert discovered host", "hostname", c.Hostname, "error", err)
			continue
		}
		discovered = append(discovered, host)
	}

	h.logger.Info("directory discovery complete", "found", len(computers), "stored", len(discovered))
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"hosts": discovered,
		"count": len(discovered),
	})
}
