// Package server provides HTTP routing for the sysmonfleet service.
package server

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kestrelsec/sysmonfleet/internal/auth"
	"github.com/kestrelsec/sysmonfleet/internal/handlers"
	"github.com/kestrelsec/sysmonfleet/internal/middleware"
)

// NewRouter constructs a ServeMux with all API routes registered. The
// operator routes pass through the auth middleware; the agent routes
// authenticate with per-host tokens inside the service layer instead.
func NewRouter(h *handlers.Handler, authmw *auth.Middleware) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", h.HealthCheck)
	mux.Handle("/metrics", promhttp.Handler())

	// Deployment jobs
	mux.HandleFunc("/api/v1/jobs", authmw.Protect(h.JobsHandler))
	mux.HandleFunc("/api/v1/jobs/purge", authmw.Protect(h.PurgeJobsHandler))
	mux.HandleFunc("/api/v1/jobs/", authmw.Protect(jobRouteHandler(h)))

	// Scheduled jobs
	mux.HandleFunc("/api/v1/schedules", authmw.Protect(h.SchedulesHandler))
	mux.HandleFunc("/api/v1/schedules/", authmw.Protect(h.ScheduleHandler))

	// Hosts
	mux.HandleFunc("/api/v1/hosts", authmw.Protect(h.HostsHandler))
	mux.HandleFunc("/api/v1/hosts/discover", authmw.Protect(h.DiscoverHostsHandler))

	// Agent protocol
	mux.HandleFunc("/api/v1/agent/register", h.AgentRegisterHandler)
	mux.HandleFunc("/api/v1/agent/heartbeat", h.AgentHeartbeatHandler)
	mux.HandleFunc("/api/v1/agent/results", h.AgentResultsHandler)

	// Noise analysis
	mux.HandleFunc("/api/v1/noise/analyze", authmw.Protect(h.AnalyzeHandler))
	mux.HandleFunc("/api/v1/noise/compare", authmw.Protect(h.CompareHandler))
	mux.HandleFunc("/api/v1/noise/history", authmw.Protect(h.NoiseHistoryHandler))
	mux.HandleFunc("/api/v1/noise/purge", authmw.Protect(h.NoisePurgeHandler))
	mux.HandleFunc("/api/v1/noise/runs", authmw.Protect(h.NoiseHistoryHandler))
	mux.HandleFunc("/api/v1/noise/runs/", authmw.Protect(h.NoiseRunHandler))
	mux.HandleFunc("/api/v1/noise/thresholds/", authmw.Protect(h.ThresholdsHandler))

	// Stored Sysmon configs
	mux.HandleFunc("/api/v1/configs", authmw.Protect(h.ConfigsHandler))
	mux.HandleFunc("/api/v1/configs/", authmw.Protect(h.ConfigHandler))

	return middleware.RequestID(mux)
}

// jobRouteHandler routes /api/v1/jobs/{id} and its cancel sub-route.
func jobRouteHandler(h *handlers.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/cancel") {
			h.CancelJobHandler(w, r)
			return
		}
		h.JobHandler(w, r)
	}
}
