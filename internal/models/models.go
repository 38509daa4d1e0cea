// Package models defines the domain types shared across the service.
package models

import "time"

// Host is a managed Windows endpoint. Hosts are uniquely identified by
// hostname and are never hard-deleted; decommissioned hosts are flagged
// inactive instead.
type Host struct {
	ID                  string         `json:"id"`
	Hostname            string         `json:"hostname"`
	DistinguishedName   string         `json:"distinguished_name,omitempty"`
	OS                  string         `json:"os,omitempty"`
	SysmonVersion       string         `json:"sysmon_version,omitempty"`
	SysmonPath          string         `json:"sysmon_path,omitempty"`
	ConfigHash          string         `json:"config_hash,omitempty"`
	Role                string         `json:"role,omitempty"`
	Managed             ManagementMode `json:"managed"`
	AgentID             string         `json:"agent_id,omitempty"`
	TokenHash           string         `json:"-"`
	PollIntervalSeconds int            `json:"poll_interval_seconds,omitempty"`
	LastSeenAt          *time.Time     `json:"last_seen_at,omitempty"`
	LastScanStatus      string         `json:"last_scan_status,omitempty"`
	Active              bool           `json:"active"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// Job is one fleet-wide deployment operation. It owns its per-host results
// by id; result count is fixed at creation.
type Job struct {
	ID            string     `json:"id"`
	Operation     Operation  `json:"operation"`
	ConfigID      *string    `json:"config_id,omitempty"`
	SysmonVersion string     `json:"sysmon_version,omitempty"`
	CreatedBy     string     `json:"created_by"`
	Status        JobStatus  `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// JobResult is one host's outcome within a job. State is explicit; Detail
// carries the provider message and never doubles as a status sentinel.
type JobResult struct {
	ID          string       `json:"id"`
	JobID       string       `json:"job_id"`
	HostID      string       `json:"host_id"`
	Hostname    string       `json:"hostname,omitempty"`
	State       ResultState  `json:"state"`
	Detail      string       `json:"detail,omitempty"`
	Dispatch    DispatchMode `json:"dispatch"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// ScheduledJob is a job specification deferred to a future instant.
type ScheduledJob struct {
	ID            string     `json:"id"`
	Operation     Operation  `json:"operation"`
	ConfigID      *string    `json:"config_id,omitempty"`
	SysmonVersion string     `json:"sysmon_version,omitempty"`
	HostIDs       []string   `json:"host_ids"`
	RunAt         time.Time  `json:"run_at"`
	CreatedBy     string     `json:"created_by"`
	CreatedAt     time.Time  `json:"created_at"`
	FiredJobID    *string    `json:"fired_job_id,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
}

// AgentCommand is a unit of work handed to a polling agent. When JobID is
// set the command's result feeds back into that job's result row.
type AgentCommand struct {
	ID            string         `json:"id"`
	HostID        string         `json:"host_id"`
	Type          Operation      `json:"type"`
	JobID         *string        `json:"job_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	SentAt        *time.Time     `json:"sent_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	ResultStatus  string         `json:"result_status,omitempty"`
	ResultMessage string         `json:"result_message,omitempty"`
	ResultPayload map[string]any `json:"result_payload,omitempty"`
}

// NoiseLevel classifies a pattern's score against the 2x/5x bands.
type NoiseLevel string

const (
	LevelNormal    NoiseLevel = "normal"
	LevelNoisy     NoiseLevel = "noisy"
	LevelVeryNoisy NoiseLevel = "very_noisy"
)

// NoiseRun is one scoring pass over one host's events in a time window.
type NoiseRun struct {
	ID             string    `json:"id"`
	HostID         string    `json:"host_id"`
	TimeRangeHours float64   `json:"time_range_hours"`
	TotalEvents    int64     `json:"total_events"`
	CreatedAt      time.Time `json:"created_at"`
}

// NoiseResult is one (event type, grouping key) pattern scored in a run.
type NoiseResult struct {
	ID             string     `json:"id"`
	RunID          string     `json:"run_id"`
	EventID        int        `json:"event_id"`
	GroupKey       string     `json:"group_key"`
	Count          int64      `json:"count"`
	Rate           float64    `json:"rate"`
	Score          float64    `json:"score"`
	Level          NoiseLevel `json:"level"`
	ExclusionField string     `json:"exclusion_field,omitempty"`
	ExclusionValue string     `json:"exclusion_value,omitempty"`
}

// SysmonConfig is a stored Sysmon configuration document.
type SysmonConfig struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HostComparison is one host's entry in a cross-host noise comparison.
type HostComparison struct {
	HostID         string  `json:"host_id"`
	Hostname       string  `json:"hostname"`
	RunID          string  `json:"run_id"`
	NoisyCount     int     `json:"noisy_count"`
	VeryNoisyCount int     `json:"very_noisy_count"`
	AggregateScore float64 `json:"aggregate_score"`
}

// ComparisonReport is the result of comparing noise across hosts. Common
// patterns are group keys noisy on more than one host.
type ComparisonReport struct {
	Hosts          []HostComparison `json:"hosts"`
	CommonPatterns []string         `json:"common_patterns"`
}
