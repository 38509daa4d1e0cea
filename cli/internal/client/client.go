// Package client is a thin HTTP client for the sysmonfleet API.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kestrelsec/sysmonfleet/internal/models"
)

// Client talks to a sysmonfleet service instance.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for the given server URL. token may be empty when
// the server runs with auth disabled.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (%d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) CreateJob(req *models.CreateJobRequest) (*models.Job, error) {
	var job models.Job
	if err := c.do(http.MethodPost, "/api/v1/jobs", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) ListJobs(limit int) ([]*models.Job, error) {
	path := "/api/v1/jobs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Jobs []*models.Job `json:"jobs"`
	}
	if err := c.do(http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

func (c *Client) GetJob(id string) (*models.JobWithResults, error) {
	var resp models.JobWithResults
	if err := c.do(http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) CancelJob(id string) (*models.Job, error) {
	var job models.Job
	if err := c.do(http.MethodPost, "/api/v1/jobs/"+url.PathEscape(id)+"/cancel", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) PurgeJobs(days int) (*models.PurgeResponse, error) {
	var resp models.PurgeResponse
	if err := c.do(http.MethodPost, "/api/v1/jobs/purge", map[string]int{"days": days}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListHosts() ([]*models.Host, error) {
	var resp struct {
		Hosts []*models.Host `json:"hosts"`
	}
	if err := c.do(http.MethodGet, "/api/v1/hosts", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Hosts, nil
}

func (c *Client) Analyze(hostID string, hours float64) (*models.RunWithResults, error) {
	var resp models.RunWithResults
	err := c.do(http.MethodPost, "/api/v1/noise/analyze",
		&models.AnalyzeRequest{HostID: hostID, Hours: hours}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Compare(hostIDs []string, hours float64) (*models.ComparisonReport, error) {
	var resp models.ComparisonReport
	err := c.do(http.MethodPost, "/api/v1/noise/compare",
		&models.CompareRequest{HostIDs: hostIDs, Hours: hours}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Exclusions returns the generated Sysmon exclusion XML for a run.
func (c *Client) Exclusions(runID string, minScore float64) (string, error) {
	path := fmt.Sprintf("/api/v1/noise/runs/%s/exclusions?min_score=%g", url.PathEscape(runID), minScore)
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return "", err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
