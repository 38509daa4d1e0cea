package models

import "time"

// CreateJobRequest is the operator request to launch a deployment job.
type CreateJobRequest struct {
	Operation     string   `json:"operation"`
	ConfigID      *string  `json:"config_id,omitempty"`
	SysmonVersion string   `json:"sysmon_version,omitempty"`
	HostIDs       []string `json:"host_ids"`
}

// CreateScheduledJobRequest defers a job to a future instant.
type CreateScheduledJobRequest struct {
	Operation     string    `json:"operation"`
	ConfigID      *string   `json:"config_id,omitempty"`
	SysmonVersion string    `json:"sysmon_version,omitempty"`
	HostIDs       []string  `json:"host_ids"`
	RunAt         time.Time `json:"run_at"`
}

// JobWithResults is the GetJob response shape.
type JobWithResults struct {
	Job     *Job         `json:"job"`
	Results []*JobResult `json:"results"`
}

// PurgeResponse reports what a bulk purge removed.
type PurgeResponse struct {
	JobsDeleted    int64 `json:"jobs_deleted,omitempty"`
	ResultsDeleted int64 `json:"results_deleted,omitempty"`
	RunsDeleted    int64 `json:"runs_deleted,omitempty"`
}

// RegisterRequest is the agent self-registration call.
type RegisterRequest struct {
	AgentID  string   `json:"agent_id"`
	Secret   string   `json:"secret"`
	Hostname string   `json:"hostname"`
	OS       string   `json:"os,omitempty"`
	Version  string   `json:"version,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// RegisterResponse returns the per-host auth token issued to the agent.
type RegisterResponse struct {
	Accepted            bool   `json:"accepted"`
	HostID              string `json:"host_id,omitempty"`
	AuthToken           string `json:"auth_token,omitempty"`
	PollIntervalSeconds int    `json:"poll_interval_seconds,omitempty"`
}

// HeartbeatRequest is the agent's periodic status report.
type HeartbeatRequest struct {
	AgentID       string `json:"agent_id"`
	AuthToken     string `json:"auth_token"`
	SysmonVersion string `json:"sysmon_version,omitempty"`
	SysmonPath    string `json:"sysmon_path,omitempty"`
	ConfigHash    string `json:"config_hash,omitempty"`
	OS            string `json:"os,omitempty"`
}

// HeartbeatResponse carries the next batch of pending commands.
type HeartbeatResponse struct {
	Registered             bool            `json:"registered"`
	PendingCommands        []*AgentCommand `json:"pending_commands,omitempty"`
	NewPollIntervalSeconds int             `json:"new_poll_interval_seconds,omitempty"`
}

// SubmitResultRequest reports a command outcome from an agent.
type SubmitResultRequest struct {
	AgentID   string         `json:"agent_id"`
	AuthToken string         `json:"auth_token"`
	CommandID string         `json:"command_id"`
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// AnalyzeRequest asks for a noise analysis run over one host.
type AnalyzeRequest struct {
	HostID string  `json:"host_id"`
	Hours  float64 `json:"hours"`
}

// CompareRequest asks for a cross-host noise comparison.
type CompareRequest struct {
	HostIDs []string `json:"host_ids"`
	Hours   float64  `json:"hours"`
}

// RunWithResults is the noise analysis response shape.
type RunWithResults struct {
	Run     *NoiseRun      `json:"run"`
	Results []*NoiseResult `json:"results"`
}

// AddExclusionRequest adds one exclusion rule to a stored config.
type AddExclusionRequest struct {
	EventID   int    `json:"event_id"`
	FieldName string `json:"field_name"`
	Value     string `json:"value"`
	Condition string `json:"condition,omitempty"`
}
