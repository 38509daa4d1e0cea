package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelsec/sysmonfleet/internal/models"
)

func TestCreateJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/jobs", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var req models.CreateJobRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "install", req.Operation)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(models.Job{ID: "job-1", Operation: models.OpInstall, Status: models.JobPending})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	job, err := c.CreateJob(&models.CreateJobRequest{Operation: "install", HostIDs: []string{"h1"}})
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
}

func TestCreateJob_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "unknown operation"})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.CreateJob(&models.CreateJobRequest{Operation: "reboot"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown operation")
}

func TestListJobs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jobs":  []models.Job{{ID: "job-1"}, {ID: "job-2"}},
			"count": 2,
		})
	}))
	defer srv.Close()

	jobs, err := New(srv.URL, "").ListJobs(5)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestExclusions(t *testing.T) {
	const xml = `<Sysmon schemaversion="4.90"></Sysmon>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/noise/runs/run-1/exclusions", r.URL.Path)
		assert.Equal(t, "1.5", r.URL.Query().Get("min_score"))
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(xml))
	}))
	defer srv.Close()

	got, err := New(srv.URL, "").Exclusions("run-1", 1.5)
	require.NoError(t, err)
	assert.Equal(t, xml, got)
}

func TestCancelJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/jobs/job-1/cancel", r.URL.Path)
		json.NewEncoder(w).Encode(models.Job{ID: "job-1", Status: models.JobCancelled})
	}))
	defer srv.Close()

	job, err := New(srv.URL, "").CancelJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, job.Status)
}
