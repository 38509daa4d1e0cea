package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelsec/sysmonfleet/internal/agentapi"
	"github.com/kestrelsec/sysmonfleet/internal/config"
	"github.com/kestrelsec/sysmonfleet/internal/deploy"
	"github.com/kestrelsec/sysmonfleet/internal/events"
	"github.com/kestrelsec/sysmonfleet/internal/logging"
	"github.com/kestrelsec/sysmonfleet/internal/models"
	"github.com/kestrelsec/sysmonfleet/internal/noise"
	"github.com/kestrelsec/sysmonfleet/internal/notify"
	"github.com/kestrelsec/sysmonfleet/internal/remote"
	"github.com/kestrelsec/sysmonfleet/internal/repository"
	"github.com/kestrelsec/sysmonfleet/internal/sysmonconfig"
)

type fakeEventStore struct {
	aggs []events.Aggregation
	err  error
}

func (f *fakeEventStore) GetAggregations(context.Context, string, float64, map[int][]string) ([]events.Aggregation, error) {
	return f.aggs, f.err
}

func (f *fakeEventStore) QueryEvents(context.Context, string, int, float64, int) ([]events.Event, error) {
	return nil, nil
}

func (f *fakeEventStore) TestAccess(context.Context) error { return nil }

type fakeDirectory struct {
	available bool
	computers []remote.Computer
	err       error
}

func (f *fakeDirectory) IsAvailable() bool { return f.available }

func (f *fakeDirectory) ListComputers(context.Context) ([]remote.Computer, error) {
	return f.computers, f.err
}

type testEnv struct {
	handler *Handler
	repo    repository.Repository
	store   *fakeEventStore
	dir     *fakeDirectory
}

func newTestHandler(t *testing.T) *testEnv {
	t.Helper()
	repo := repository.NewInMemoryRepository()
	logger := logging.New(logging.ParseLevel("error"), "text")
	publisher := &notify.Publisher{}
	store := &fakeEventStore{}
	dir := &fakeDirectory{}

	deploySvc := deploy.NewService(repo, deploy.NewQueue(), publisher, logger)
	agentSvc := agentapi.NewService(repo, config.AgentConfig{
		PollIntervalSeconds: 60,
		CommandBatchSize:    10,
	}, publisher, logger)
	analyzer := noise.NewAnalyzer(repo, store, noise.MustDefaultFieldTable(), logger)
	configSvc := sysmonconfig.NewService(repo, noise.MustDefaultFieldTable(), 5*time.Second, logger)

	h := NewHandler(deploySvc, agentSvc, analyzer, configSvc, repo, dir, logger)
	return &testEnv{handler: h, repo: repo, store: store, dir: dir}
}

func addHost(t *testing.T, repo repository.Repository, hostname, role string) *models.Host {
	t.Helper()
	id, err := uuid.NewV7()
	require.NoError(t, err)
	h := &models.Host{
		ID:        id.String(),
		Hostname:  hostname,
		Role:      role,
		Managed:   models.ManagedDirect,
		Active:    true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, repo.CreateHost(context.Background(), h))
	return h
}

func doJSON(t *testing.T, fn http.HandlerFunc, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	fn(rec, req)
	return rec
}

func TestCreateJobHandler(t *testing.T) {
	env := newTestHandler(t)
	host := addHost(t, env.repo, "ws-01", "workstation")

	rec := doJSON(t, env.handler.JobsHandler, http.MethodPost, "/api/v1/jobs", models.CreateJobRequest{
		Operation: "install",
		HostIDs:   []string{host.ID},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var job models.Job
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&job))
	assert.Equal(t, models.OpInstall, job.Operation)
	assert.Equal(t, models.JobPending, job.Status)
	assert.Equal(t, "anonymous", job.CreatedBy)
}

func TestCreateJobHandler_Validation(t *testing.T) {
	env := newTestHandler(t)
	host := addHost(t, env.repo, "ws-01", "workstation")

	tests := []struct {
		name string
		req  models.CreateJobRequest
		want int
	}{
		{"unknown operation", models.CreateJobRequest{Operation: "reboot", HostIDs: []string{host.ID}}, http.StatusBadRequest},
		{"no hosts", models.CreateJobRequest{Operation: "install"}, http.StatusBadRequest},
		{"unknown host", models.CreateJobRequest{Operation: "install", HostIDs: []string{"nope"}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, env.handler.JobsHandler, http.MethodPost, "/api/v1/jobs", tt.req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestJobHandler_NotFound(t *testing.T) {
	env := newTestHandler(t)

	rec := doJSON(t, env.handler.JobHandler, http.MethodGet, "/api/v1/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelJobHandler(t *testing.T) {
	env := newTestHandler(t)
	host := addHost(t, env.repo, "ws-01", "workstation")

	rec := doJSON(t, env.handler.JobsHandler, http.MethodPost, "/api/v1/jobs", models.CreateJobRequest{
		Operation: "test",
		HostIDs:   []string{host.ID},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var job models.Job
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&job))

	rec = doJSON(t, env.handler.CancelJobHandler, http.MethodPost,
		fmt.Sprintf("/api/v1/jobs/%s/cancel", job.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var cancelled models.Job
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&cancelled))
	assert.Equal(t, models.JobCancelled, cancelled.Status)
}

func TestDiscoverHostsHandler(t *testing.T) {
	env := newTestHandler(t)

	t.Run("directory unavailable", func(t *testing.T) {
		rec := doJSON(t, env.handler.DiscoverHostsHandler, http.MethodPost, "/api/v1/hosts/discover", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("upserts discovered computers", func(t *testing.T) {
		env.dir.available = true
		env.dir.computers = []remote.Computer{
			{Hostname: "WS-01", DistinguishedName: "CN=WS-01,OU=Workstations", OS: "Windows 11"},
			{Hostname: "SRV-01", DistinguishedName: "CN=SRV-01,OU=Servers", OS: "Windows Server 2022"},
		}

		rec := doJSON(t, env.handler.DiscoverHostsHandler, http.MethodPost, "/api/v1/hosts/discover", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		hosts, err := env.repo.ListHosts(context.Background())
		require.NoError(t, err)
		assert.Len(t, hosts, 2)
	})
}

func TestAnalyzeHandler(t *testing.T) {
	env := newTestHandler(t)
	host := addHost(t, env.repo, "ws-01", "workstation")
	env.store.aggs = []events.Aggregation{
		{EventID: 1, Fields: map[string]string{"Image": `C:\Windows\svchost.exe`}, Count: 2400},
	}

	rec := doJSON(t, env.handler.AnalyzeHandler, http.MethodPost, "/api/v1/noise/analyze", models.AnalyzeRequest{
		HostID: host.ID,
		Hours:  24,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.RunWithResults
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Results, 1)
	assert.InDelta(t, 2.0, resp.Results[0].Score, 0.001)
}

func TestAnalyzeHandler_UnknownHost(t *testing.T) {
	env := newTestHandler(t)

	rec := doJSON(t, env.handler.AnalyzeHandler, http.MethodPost, "/api/v1/noise/analyze", models.AnalyzeRequest{
		HostID: "missing",
		Hours:  24,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalyzeHandler_InvalidTimeRange(t *testing.T) {
	env := newTestHandler(t)
	host := addHost(t, env.repo, "ws-01", "workstation")

	rec := doJSON(t, env.handler.AnalyzeHandler, http.MethodPost, "/api/v1/noise/analyze", models.AnalyzeRequest{
		HostID: host.ID,
		Hours:  0,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeHandler_EventStoreOutage(t *testing.T) {
	env := newTestHandler(t)
	host := addHost(t, env.repo, "ws-01", "workstation")
	env.store.err = errors.New("connection refused")

	rec := doJSON(t, env.handler.AnalyzeHandler, http.MethodPost, "/api/v1/noise/analyze", models.AnalyzeRequest{
		HostID: host.ID,
		Hours:  24,
	})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestThresholdsHandler(t *testing.T) {
	env := newTestHandler(t)

	rec := doJSON(t, env.handler.ThresholdsHandler, http.MethodGet, "/api/v1/noise/thresholds/server", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Role       string          `json:"role"`
		Thresholds map[int]float64 `json:"thresholds"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.Thresholds)

	rec = doJSON(t, env.handler.ThresholdsHandler, http.MethodGet, "/api/v1/noise/thresholds/mainframe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExclusionsHandler(t *testing.T) {
	env := newTestHandler(t)
	host := addHost(t, env.repo, "ws-01", "workstation")
	env.store.aggs = []events.Aggregation{
		{EventID: 1, Fields: map[string]string{"Image": `C:\Windows\noisy.exe`}, Count: 10000},
	}

	rec := doJSON(t, env.handler.AnalyzeHandler, http.MethodPost, "/api/v1/noise/analyze", models.AnalyzeRequest{
		HostID: host.ID,
		Hours:  24,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.RunWithResults
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	rec = doJSON(t, env.handler.NoiseRunHandler, http.MethodGet,
		fmt.Sprintf("/api/v1/noise/runs/%s/exclusions?min_score=1.0", resp.Run.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "noisy.exe")
	assert.Contains(t, rec.Body.String(), `onmatch="exclude"`)
}

func TestConfigExclusionHandler(t *testing.T) {
	env := newTestHandler(t)

	rec := doJSON(t, env.handler.ConfigsHandler, http.MethodPost, "/api/v1/configs", map[string]string{
		"name":    "baseline",
		"content": `<Sysmon schemaversion="4.90"><EventFiltering></EventFiltering></Sysmon>`,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var cfg models.SysmonConfig
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&cfg))

	rec = doJSON(t, env.handler.ConfigHandler, http.MethodPost,
		fmt.Sprintf("/api/v1/configs/%s/exclusions", cfg.ID), models.AddExclusionRequest{
			EventID:   1,
			FieldName: "Image",
			Value:     `C:\Windows\noisy.exe`,
		})
	require.Equal(t, http.StatusOK, rec.Code)

	var updated models.SysmonConfig
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&updated))
	assert.Contains(t, updated.Content, "noisy.exe")
	assert.NotEqual(t, cfg.Hash, updated.Hash)
}

func TestAgentEndpointsRejectWithoutDetail(t *testing.T) {
	env := newTestHandler(t)

	rec := doJSON(t, env.handler.AgentRegisterHandler, http.MethodPost, "/api/v1/agent/register", models.RegisterRequest{
		AgentID:  "agent-1",
		Secret:   "anything",
		Hostname: "ws-01",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, env.handler.AgentHeartbeatHandler, http.MethodPost, "/api/v1/agent/heartbeat", models.HeartbeatRequest{
		AgentID:   "agent-1",
		AuthToken: "bogus",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var hb models.HeartbeatResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&hb))
	assert.False(t, hb.Registered)
	assert.Empty(t, hb.PendingCommands)
}

func TestHealthCheck(t *testing.T) {
	env := newTestHandler(t)

	rec := doJSON(t, env.handler.HealthCheck, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}
