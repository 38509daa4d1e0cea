// Package deploy owns the deployment job lifecycle: job creation and
// validation, the in-process work queue, the worker that fans jobs out
// across hosts, and the schedule poller.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelsec/sysmonfleet/internal/logging"
	"github.com/kestrelsec/sysmonfleet/internal/metrics"
	"github.com/kestrelsec/sysmonfleet/internal/models"
	"github.com/kestrelsec/sysmonfleet/internal/notify"
	"github.com/kestrelsec/sysmonfleet/internal/repository"
)

var (
	ErrNoHosts        = errors.New("job requires at least one host")
	ErrConfigRequired = errors.New("operation requires a config id")
	ErrRunAtPast      = errors.New("run_at must be in the future")
)

// Service validates and records deployment jobs and hands them to the
// worker through the queue.
type Service struct {
	repo      repository.Repository
	queue     *Queue
	publisher *notify.Publisher
	logger    *logging.Logger
}

// NewService creates a deployment service.
func NewService(repo repository.Repository, queue *Queue, publisher *notify.Publisher, logger *logging.Logger) *Service {
	return &Service{repo: repo, queue: queue, publisher: publisher, logger: logger}
}

// CreateJob validates the request, persists the job with one pending
// result per host and enqueues it for the worker.
func (s *Service) CreateJob(ctx context.Context, req *models.CreateJobRequest, createdBy string) (*models.Job, error) {
	op, err := models.ParseOperation(req.Operation)
	if err != nil {
		return nil, err
	}
	if len(req.HostIDs) == 0 {
		return nil, ErrNoHosts
	}
	if op.RequiresConfig() {
		if req.ConfigID == nil || *req.ConfigID == "" {
			return nil, ErrConfigRequired
		}
		if _, err := s.repo.GetSysmonConfig(ctx, *req.ConfigID); err != nil {
			return nil, err
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate job id: %w", err)
	}
	job := &models.Job{
		ID:            id.String(),
		Operation:     op,
		ConfigID:      req.ConfigID,
		SysmonVersion: req.SysmonVersion,
		CreatedBy:     createdBy,
		Status:        models.JobPending,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.repo.CreateJob(ctx, job, req.HostIDs); err != nil {
		return nil, err
	}

	metrics.JobsEnqueued.Inc()
	s.queue.Enqueue(job.ID)
	s.publishStatus(job, models.JobPending)
	s.logger.Info("job created",
		"job_id", job.ID, "operation", string(op), "hosts", len(req.HostIDs))
	return job, nil
}

// GetJob returns a job with its per-host results.
func (s *Service) GetJob(ctx context.Context, id string) (*models.JobWithResults, error) {
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	results, err := s.repo.GetJobResults(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.JobWithResults{Job: job, Results: results}, nil
}

// ListJobs returns the most recent jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListJobs(ctx, limit)
}

// CancelJob flips a non-terminal job to cancelled. Calling it again, or
// on an already finished job, succeeds without changing anything.
func (s *Service) CancelJob(ctx context.Context, id string) (*models.Job, error) {
	changed, err := s.repo.CancelJob(ctx, id, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if changed {
		metrics.JobsCompleted.WithLabelValues(string(models.JobCancelled)).Inc()
		s.publishStatus(job, models.JobCancelled)
		s.logger.Info("job cancelled", "job_id", id)
	}
	return job, nil
}

// PurgeJobs deletes terminal jobs older than the given number of days.
func (s *Service) PurgeJobs(ctx context.Context, days int) (*models.PurgeResponse, error) {
	if days < 1 {
		return nil, fmt.Errorf("retention must be at least one day")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	jobs, results, err := s.repo.PurgeJobs(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	s.logger.Info("purged jobs", "jobs", jobs, "results", results, "days", days)
	return &models.PurgeResponse{JobsDeleted: jobs, ResultsDeleted: results}, nil
}

// CreateScheduledJob records a job specification for a future instant.
func (s *Service) CreateScheduledJob(ctx context.Context, req *models.CreateScheduledJobRequest, createdBy string) (*models.ScheduledJob, error) {
	op, err := models.ParseOperation(req.Operation)
	if err != nil {
		return nil, err
	}
	if len(req.HostIDs) == 0 {
		return nil, ErrNoHosts
	}
	if op.RequiresConfig() && (req.ConfigID == nil || *req.ConfigID == "") {
		return nil, ErrConfigRequired
	}
	if !req.RunAt.After(time.Now()) {
		return nil, ErrRunAtPast
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate schedule id: %w", err)
	}
	sched := &models.ScheduledJob{
		ID:            id.String(),
		Operation:     op,
		ConfigID:      req.ConfigID,
		SysmonVersion: req.SysmonVersion,
		HostIDs:       req.HostIDs,
		RunAt:         req.RunAt.UTC(),
		CreatedBy:     createdBy,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.repo.CreateScheduledJob(ctx, sched); err != nil {
		return nil, err
	}
	s.logger.Info("job scheduled",
		"schedule_id", sched.ID, "operation", string(op), "run_at", sched.RunAt)
	return sched, nil
}

// ListScheduledJobs returns all schedules, fired or not.
func (s *Service) ListScheduledJobs(ctx context.Context) ([]*models.ScheduledJob, error) {
	return s.repo.ListScheduledJobs(ctx)
}

// CancelScheduledJob cancels a schedule that has not fired yet.
func (s *Service) CancelScheduledJob(ctx context.Context, id string) error {
	return s.repo.CancelScheduledJob(ctx, id, time.Now().UTC())
}

// FireScheduledJob converts a due schedule into a live job. Used by the
// scheduler; the schedule is marked fired before the first host runs.
func (s *Service) FireScheduledJob(ctx context.Context, sched *models.ScheduledJob) (*models.Job, error) {
	job, err := s.CreateJob(ctx, &models.CreateJobRequest{
		Operation:     string(sched.Operation),
		ConfigID:      sched.ConfigID,
		SysmonVersion: sched.SysmonVersion,
		HostIDs:       sched.HostIDs,
	}, sched.CreatedBy)
	if err != nil {
		return nil, err
	}
	if err := s.repo.MarkScheduledJobFired(ctx, sched.ID, job.ID); err != nil {
		return nil, fmt.Errorf("failed to mark schedule fired: %w", err)
	}
	return job, nil
}

func (s *Service) publishStatus(job *models.Job, status models.JobStatus) {
	if err := s.publisher.PublishJobStatus(&notify.JobStatusEvent{
		JobID:     job.ID,
		Operation: job.Operation,
		Status:    status,
	}); err != nil {
		s.logger.Error("failed to publish job status", "job_id", job.ID, "error", err)
	}
}
