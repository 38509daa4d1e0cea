package deploy

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelsec/sysmonfleet/internal/logging"
	"github.com/kestrelsec/sysmonfleet/internal/metrics"
	"github.com/kestrelsec/sysmonfleet/internal/models"
	"github.com/kestrelsec/sysmonfleet/internal/notify"
	"github.com/kestrelsec/sysmonfleet/internal/remote"
	"github.com/kestrelsec/sysmonfleet/internal/repository"
)

const (
	remoteBinaryPath = `C:\Windows\Temp\Sysmon.exe`
	remoteConfigPath = `C:\Windows\Temp\sysmonconfig.xml`
	sysmonService    = `C:\Windows\Sysmon64.exe`
)

// Providers bundles the capability providers the worker drives. Any of
// them may be nil or unavailable; operations needing a missing capability
// fail fast per host instead of hanging the job.
type Providers struct {
	Directory   remote.DirectoryClient
	Executor    remote.Executor
	Transfer    remote.FileTransfer
	BinaryCache remote.BinaryCache
}

// Worker consumes the job queue one job at a time and fans each job out
// across its hosts with bounded parallelism.
type Worker struct {
	repo        repository.Repository
	queue       *Queue
	providers   Providers
	publisher   *notify.Publisher
	parallelism int
	execTimeout time.Duration
	logger      *logging.Logger
}

// NewWorker creates a deployment worker.
func NewWorker(repo repository.Repository, queue *Queue, providers Providers, publisher *notify.Publisher, parallelism int, execTimeout time.Duration, logger *logging.Logger) *Worker {
	if parallelism < 1 {
		parallelism = 1
	}
	if execTimeout <= 0 {
		execTimeout = time.Minute
	}
	return &Worker{
		repo:        repo,
		queue:       queue,
		providers:   providers,
		publisher:   publisher,
		parallelism: parallelism,
		execTimeout: execTimeout,
		logger:      logger,
	}
}

// Run consumes the queue until the context ends. Jobs are processed
// serially; parallelism lives inside a job's host fan-out.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("deployment worker started", "parallelism", w.parallelism)
	for {
		jobID, err := w.queue.Dequeue(ctx)
		if err != nil {
			w.logger.Info("deployment worker stopped")
			return
		}
		w.processJob(ctx, jobID)
	}
}

// hostAction runs one operation against one directly-managed host and
// returns success plus a detail message.
type hostAction func(ctx context.Context, host *models.Host) (bool, string)

func (w *Worker) processJob(ctx context.Context, jobID string) {
	job, err := w.repo.GetJob(ctx, jobID)
	if err != nil {
		w.logger.Error("failed to load job", "job_id", jobID, "error", err)
		return
	}
	// Duplicate enqueue or cancelled before start.
	if job.Status != models.JobPending {
		return
	}

	results, err := w.repo.GetJobResults(ctx, jobID)
	if err != nil {
		w.logger.Error("failed to load job results", "job_id", jobID, "error", err)
		return
	}

	now := time.Now().UTC()
	if err := w.repo.MarkJobRunning(ctx, jobID, now); err != nil {
		w.logger.Error("failed to mark job running", "job_id", jobID, "error", err)
		return
	}
	w.publishStatus(job, models.JobRunning)

	action, missing := w.resolveAction(ctx, job)
	if missing != "" {
		w.failAll(ctx, job, results, "capability unavailable: "+missing)
		return
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, w.parallelism)

	for _, res := range results {
		if res.State.Terminal() {
			continue
		}

		// Lazy cancellation check: a cancel between dispatches stops
		// further fan-out; in-flight attempts run to completion.
		current, err := w.repo.GetJob(ctx, jobID)
		if err == nil && current.Status == models.JobCancelled {
			w.logger.Info("job cancelled, stopping dispatch", "job_id", jobID)
			break
		}

		host, err := w.repo.GetHostByID(ctx, res.HostID)
		if err != nil {
			w.completeHost(ctx, job, res.HostID, "", models.DispatchDirect, false, "host record missing")
			continue
		}

		if host.Managed == models.ManagedAgent {
			if dispatch, err := w.delegateToAgent(ctx, job, host); err != nil {
				w.completeHost(ctx, job, host.ID, host.Hostname, dispatch, false,
					fmt.Sprintf("failed to queue agent command: %v", err))
			}
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(host *models.Host) {
			defer wg.Done()
			defer func() { <-sem }()

			start := time.Now()
			ok, detail := action(ctx, host)
			metrics.HostAttemptDuration.Observe(time.Since(start).Seconds())
			w.completeHost(ctx, job, host.ID, host.Hostname, models.DispatchDirect, ok, detail)
		}(host)
	}

	wg.Wait()
	w.finishIfDone(ctx, job)
}

// delegateToAgent queues a command for the host's agent and tags the
// result row so only the agent path can complete it. On error it also
// reports which dispatch mode the result row carries at that point, so
// the caller's fallback failure write passes the ownership guard.
func (w *Worker) delegateToAgent(ctx context.Context, job *models.Job, host *models.Host) (models.DispatchMode, error) {
	if err := w.repo.SetResultDispatch(ctx, job.ID, host.ID, models.DispatchAgent); err != nil {
		return models.DispatchDirect, err
	}

	payload := map[string]any{"operation": string(job.Operation)}
	if job.SysmonVersion != "" {
		payload["sysmon_version"] = job.SysmonVersion
	}
	if job.ConfigID != nil {
		cfg, err := w.repo.GetSysmonConfig(ctx, *job.ConfigID)
		if err != nil {
			return models.DispatchAgent, err
		}
		payload["config_xml"] = cfg.Content
		payload["config_hash"] = cfg.Hash
	}

	id, err := uuid.NewV7()
	if err != nil {
		return models.DispatchAgent, err
	}
	jobID := job.ID
	cmd := &models.AgentCommand{
		ID:        id.String(),
		HostID:    host.ID,
		Type:      job.Operation,
		JobID:     &jobID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := w.repo.CreateAgentCommand(ctx, cmd); err != nil {
		return models.DispatchAgent, err
	}
	w.logger.Info("operation delegated to agent",
		"job_id", job.ID, "host", host.Hostname, "command_id", cmd.ID)
	return models.DispatchAgent, nil
}

// completeHost writes one terminal result, publishes progress and bumps
// metrics. Per-host failures are data, never propagated errors.
func (w *Worker) completeHost(ctx context.Context, job *models.Job, hostID, hostname string, mode models.DispatchMode, ok bool, detail string) {
	state := models.ResultFailed
	outcome := "failed"
	if ok {
		state = models.ResultSucceeded
		outcome = "succeeded"
	}
	metrics.HostAttempts.WithLabelValues(string(job.Operation), outcome).Inc()

	if err := w.repo.CompleteResult(ctx, job.ID, hostID, mode, state, detail, time.Now().UTC()); err != nil {
		w.logger.Error("failed to record host result",
			"job_id", job.ID, "host_id", hostID, "error", err)
		return
	}

	if err := w.publisher.PublishProgress(&notify.HostProgress{
		JobID:    job.ID,
		HostID:   hostID,
		Hostname: hostname,
		Success:  ok,
		Message:  detail,
	}); err != nil {
		w.logger.Error("failed to publish progress", "job_id", job.ID, "error", err)
	}
}

// finishIfDone runs the completion barrier and announces a terminal status.
func (w *Worker) finishIfDone(ctx context.Context, job *models.Job) {
	status, err := w.repo.CompleteJobIfDone(ctx, job.ID, time.Now().UTC())
	if err != nil {
		w.logger.Error("completion barrier failed", "job_id", job.ID, "error", err)
		return
	}
	if status == "" {
		// Agent-delegated results are still outstanding; their submit
		// path re-runs the barrier.
		return
	}
	metrics.JobsCompleted.WithLabelValues(string(status)).Inc()
	w.publishStatus(job, status)
	w.logger.Info("job complete", "job_id", job.ID, "status", string(status))
}

func (w *Worker) failAll(ctx context.Context, job *models.Job, results []*models.JobResult, detail string) {
	for _, res := range results {
		if res.State.Terminal() {
			continue
		}
		w.completeHost(ctx, job, res.HostID, res.Hostname, res.Dispatch, false, detail)
	}
	w.finishIfDone(ctx, job)
}

func (w *Worker) publishStatus(job *models.Job, status models.JobStatus) {
	if err := w.publisher.PublishJobStatus(&notify.JobStatusEvent{
		JobID:     job.ID,
		Operation: job.Operation,
		Status:    status,
	}); err != nil {
		w.logger.Error("failed to publish job status", "job_id", job.ID, "error", err)
	}
}

// resolveAction maps the job's operation to a per-host action, or names
// the first missing capability.
func (w *Worker) resolveAction(ctx context.Context, job *models.Job) (hostAction, string) {
	executorUp := w.providers.Executor != nil && w.providers.Executor.IsAvailable()
	transferUp := w.providers.Transfer != nil && w.providers.Transfer.IsAvailable()
	cacheUp := w.providers.BinaryCache != nil && w.providers.BinaryCache.IsAvailable()

	switch job.Operation {
	case models.OpInstall:
		if !executorUp {
			return nil, "remote execution"
		}
		if !transferUp {
			return nil, "file transfer"
		}
		if !cacheUp {
			return nil, "binary cache"
		}
		return w.installAction(ctx, job)

	case models.OpUpdate:
		if !executorUp {
			return nil, "remote execution"
		}
		if !transferUp {
			return nil, "file transfer"
		}
		if !cacheUp {
			return nil, "binary cache"
		}
		return w.updateAction(ctx, job)

	case models.OpPushConfig:
		if !executorUp {
			return nil, "remote execution"
		}
		if !transferUp {
			return nil, "file transfer"
		}
		return w.pushConfigAction(ctx, job)

	case models.OpUninstall:
		if !executorUp {
			return nil, "remote execution"
		}
		return w.uninstallAction(), ""

	case models.OpTest:
		if !executorUp {
			return nil, "remote execution"
		}
		return w.testAction(), ""
	}
	return nil, string(job.Operation)
}

// loadBinary makes sure the requested Sysmon version is cached locally
// and returns its content.
func (w *Worker) loadBinary(ctx context.Context, version string) ([]byte, error) {
	cache := w.providers.BinaryCache
	if !cache.IsCached(version) {
		if _, err := cache.UpdateCache(ctx, version); err != nil {
			return nil, fmt.Errorf("failed to cache sysmon %s: %w", version, err)
		}
	}
	content, err := os.ReadFile(cache.CachePath(version))
	if err != nil {
		return nil, fmt.Errorf("failed to read cached binary: %w", err)
	}
	return content, nil
}

func (w *Worker) loadConfig(ctx context.Context, job *models.Job) (*models.SysmonConfig, error) {
	if job.ConfigID == nil {
		return nil, fmt.Errorf("job has no config")
	}
	return w.repo.GetSysmonConfig(ctx, *job.ConfigID)
}

func (w *Worker) installAction(ctx context.Context, job *models.Job) (hostAction, string) {
	binary, err := w.loadBinary(ctx, job.SysmonVersion)
	if err != nil {
		return func(context.Context, *models.Host) (bool, string) {
			return false, err.Error()
		}, ""
	}

	return func(ctx context.Context, host *models.Host) (bool, string) {
		if err := w.providers.Transfer.Push(ctx, host.Hostname, binary, remoteBinaryPath); err != nil {
			return false, fmt.Sprintf("binary push failed: %v", err)
		}
		return w.exec(ctx, host, remoteBinaryPath, []string{"-accepteula", "-i"})
	}, ""
}

func (w *Worker) updateAction(ctx context.Context, job *models.Job) (hostAction, string) {
	binary, err := w.loadBinary(ctx, job.SysmonVersion)
	if err != nil {
		return func(context.Context, *models.Host) (bool, string) {
			return false, err.Error()
		}, ""
	}
	cfg, err := w.loadConfig(ctx, job)
	if err != nil {
		return func(context.Context, *models.Host) (bool, string) {
			return false, err.Error()
		}, ""
	}

	return func(ctx context.Context, host *models.Host) (bool, string) {
		if err := w.providers.Transfer.Push(ctx, host.Hostname, binary, remoteBinaryPath); err != nil {
			return false, fmt.Sprintf("binary push failed: %v", err)
		}
		if ok, msg := w.exec(ctx, host, remoteBinaryPath, []string{"-accepteula", "-u"}); !ok {
			return false, "uninstall step failed: " + msg
		}
		if ok, msg := w.exec(ctx, host, remoteBinaryPath, []string{"-accepteula", "-i"}); !ok {
			return false, "install step failed: " + msg
		}
		if err := w.providers.Transfer.Push(ctx, host.Hostname, []byte(cfg.Content), remoteConfigPath); err != nil {
			return false, fmt.Sprintf("config push failed: %v", err)
		}
		return w.exec(ctx, host, sysmonService, []string{"-c", remoteConfigPath})
	}, ""
}

func (w *Worker) pushConfigAction(ctx context.Context, job *models.Job) (hostAction, string) {
	cfg, err := w.loadConfig(ctx, job)
	if err != nil {
		return func(context.Context, *models.Host) (bool, string) {
			return false, err.Error()
		}, ""
	}

	return func(ctx context.Context, host *models.Host) (bool, string) {
		if err := w.providers.Transfer.Push(ctx, host.Hostname, []byte(cfg.Content), remoteConfigPath); err != nil {
			return false, fmt.Sprintf("config push failed: %v", err)
		}
		ok, msg := w.exec(ctx, host, sysmonService, []string{"-c", remoteConfigPath})
		if ok {
			msg = "config applied, hash " + cfg.Hash
		}
		return ok, msg
	}, ""
}

func (w *Worker) uninstallAction() hostAction {
	return func(ctx context.Context, host *models.Host) (bool, string) {
		return w.exec(ctx, host, sysmonService, []string{"-u", "force"})
	}
}

// testAction verifies the host is reachable and reports the running
// Sysmon configuration.
func (w *Worker) testAction() hostAction {
	return func(ctx context.Context, host *models.Host) (bool, string) {
		return w.exec(ctx, host, sysmonService, []string{"-c"})
	}
}

func (w *Worker) exec(ctx context.Context, host *models.Host, command string, args []string) (bool, string) {
	res, err := w.providers.Executor.Execute(ctx, host.Hostname, command, args, w.execTimeout)
	if err != nil {
		return false, fmt.Sprintf("execution failed: %v", err)
	}
	if res.ExitCode != 0 {
		detail := strings.TrimSpace(res.Stderr)
		if detail == "" {
			detail = strings.TrimSpace(res.Stdout)
		}
		return false, fmt.Sprintf("exit code %d: %s", res.ExitCode, detail)
	}
	return true, strings.TrimSpace(res.Stdout)
}
