// Package repository provides persistence for hosts, jobs, agent commands
// and noise analysis runs.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kestrelsec/sysmonfleet/internal/models"
)

var (
	ErrHostNotFound    = errors.New("host not found")
	ErrHostExists      = errors.New("host already exists")
	ErrJobNotFound     = errors.New("job not found")
	ErrResultNotFound  = errors.New("job result not found")
	ErrConfigNotFound  = errors.New("sysmon config not found")
	ErrCommandNotFound = errors.New("agent command not found")
	ErrRunNotFound     = errors.New("noise run not found")
	ErrScheduleNotFound = errors.New("scheduled job not found")
)

// Repository defines the interface for sysmonfleet persistence
type Repository interface {
	// Host operations
	CreateHost(ctx context.Context, h *models.Host) error
	GetHostByID(ctx context.Context, id string) (*models.Host, error)
	GetHostByHostname(ctx context.Context, hostname string) (*models.Host, error)
	GetHostByAgentID(ctx context.Context, agentID string) (*models.Host, error)
	ListHosts(ctx context.Context) ([]*models.Host, error)
	UpdateHost(ctx context.Context, h *models.Host) error
	// UpsertDiscoveredHost creates a host from directory enumeration or
	// refreshes the directory fields of an existing one, keyed by hostname.
	UpsertDiscoveredHost(ctx context.Context, hostname, distinguishedName, os string) (*models.Host, error)

	// Job operations. CreateJob inserts the job and exactly one pending
	// result per host atomically.
	CreateJob(ctx context.Context, job *models.Job, hostIDs []string) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	GetJobResults(ctx context.Context, jobID string) ([]*models.JobResult, error)
	ListJobs(ctx context.Context, limit int) ([]*models.Job, error)
	MarkJobRunning(ctx context.Context, id string, at time.Time) error
	// CancelJob flips a non-terminal job to cancelled; returns false if the
	// job was already terminal (idempotent, no double stamp).
	CancelJob(ctx context.Context, id string, at time.Time) (bool, error)
	// SetResultDispatch tags a pending result row with its delivery path.
	SetResultDispatch(ctx context.Context, jobID, hostID string, mode models.DispatchMode) error
	// CompleteResult writes a host's terminal result. The dispatch mode must
	// match the tag set at dispatch time; a mismatched writer is rejected
	// with ErrResultNotFound so only one path ever lands the terminal write.
	CompleteResult(ctx context.Context, jobID, hostID string, mode models.DispatchMode, state models.ResultState, detail string, at time.Time) error
	// CompleteJobIfDone inspects a consistent snapshot of the job's results
	// and, if none are pending, sets the terminal status. Returns the status
	// it set, or "" when results are still outstanding.
	CompleteJobIfDone(ctx context.Context, jobID string, at time.Time) (models.JobStatus, error)
	// PurgeJobs deletes terminal jobs completed before the cutoff, results
	// first. Running and pending jobs are untouched regardless of age.
	PurgeJobs(ctx context.Context, olderThan time.Time) (jobs, results int64, err error)

	// Scheduled job operations
	CreateScheduledJob(ctx context.Context, s *models.ScheduledJob) error
	ListScheduledJobs(ctx context.Context) ([]*models.ScheduledJob, error)
	// DueScheduledJobs returns unfired, uncancelled schedules with RunAt <= now.
	DueScheduledJobs(ctx context.Context, now time.Time) ([]*models.ScheduledJob, error)
	MarkScheduledJobFired(ctx context.Context, id, jobID string) error
	CancelScheduledJob(ctx context.Context, id string, at time.Time) error

	// Agent command operations
	CreateAgentCommand(ctx context.Context, c *models.AgentCommand) error
	// ClaimPendingCommands returns up to limit unsent commands for the host
	// and stamps SentAt so they are not redelivered.
	ClaimPendingCommands(ctx context.Context, hostID string, limit int, at time.Time) ([]*models.AgentCommand, error)
	GetAgentCommand(ctx context.Context, commandID, hostID string) (*models.AgentCommand, error)
	CompleteAgentCommand(ctx context.Context, commandID, hostID, status, message string, payload map[string]any, at time.Time) error

	// Noise analysis operations
	CreateNoiseRun(ctx context.Context, run *models.NoiseRun, results []*models.NoiseResult) error
	GetNoiseRun(ctx context.Context, id string) (*models.NoiseRun, error)
	GetNoiseResults(ctx context.Context, runID string) ([]*models.NoiseResult, error)
	ListNoiseRuns(ctx context.Context, hostID string, limit int) ([]*models.NoiseRun, error)
	// LatestNoiseRun returns the newest run for a host with a matching time
	// range, or ErrRunNotFound.
	LatestNoiseRun(ctx context.Context, hostID string, hours float64) (*models.NoiseRun, error)
	DeleteNoiseRun(ctx context.Context, id string) error
	PurgeNoiseRuns(ctx context.Context, olderThan time.Time) (int64, error)

	// Sysmon config operations
	CreateSysmonConfig(ctx context.Context, c *models.SysmonConfig) error
	GetSysmonConfig(ctx context.Context, id string) (*models.SysmonConfig, error)
	ListSysmonConfigs(ctx context.Context) ([]*models.SysmonConfig, error)
	UpdateSysmonConfigContent(ctx context.Context, id, content, hash string, at time.Time) error

	// Utility
	Ping(ctx context.Context) error
	Close() error
}
