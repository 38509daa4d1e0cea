package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelsec/sysmonfleet/internal/models"
)

// InMemoryRepository is a map-backed Repository used in tests and dev mode.
type InMemoryRepository struct {
	mu sync.RWMutex

	hosts        map[string]*models.Host
	hostsByName  map[string]*models.Host
	hostsByAgent map[string]*models.Host

	jobs    map[string]*models.Job
	results map[string][]*models.JobResult // keyed by job id

	schedules map[string]*models.ScheduledJob
	commands  map[string]*models.AgentCommand

	runs       map[string]*models.NoiseRun
	runResults map[string][]*models.NoiseResult

	configs map[string]*models.SysmonConfig
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		hosts:        make(map[string]*models.Host),
		hostsByName:  make(map[string]*models.Host),
		hostsByAgent: make(map[string]*models.Host),
		jobs:         make(map[string]*models.Job),
		results:      make(map[string][]*models.JobResult),
		schedules:    make(map[string]*models.ScheduledJob),
		commands:     make(map[string]*models.AgentCommand),
		runs:         make(map[string]*models.NoiseRun),
		runResults:   make(map[string][]*models.NoiseResult),
		configs:      make(map[string]*models.SysmonConfig),
	}
}

// --- Host operations ---

func (r *InMemoryRepository) CreateHost(ctx context.Context, h *models.Host) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(h.Hostname)
	if _, exists := r.hostsByName[key]; exists {
		return ErrHostExists
	}

	cp := *h
	r.hosts[h.ID] = &cp
	r.hostsByName[key] = &cp
	if h.AgentID != "" {
		r.hostsByAgent[h.AgentID] = &cp
	}
	return nil
}

func (r *InMemoryRepository) GetHostByID(ctx context.Context, id string) (*models.Host, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, exists := r.hosts[id]
	if !exists {
		return nil, ErrHostNotFound
	}
	cp := *h
	return &cp, nil
}

func (r *InMemoryRepository) GetHostByHostname(ctx context.Context, hostname string) (*models.Host, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, exists := r.hostsByName[strings.ToLower(hostname)]
	if !exists {
		return nil, ErrHostNotFound
	}
	cp := *h
	return &cp, nil
}

func (r *InMemoryRepository) GetHostByAgentID(ctx context.Context, agentID string) (*models.Host, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, exists := r.hostsByAgent[agentID]
	if !exists {
		return nil, ErrHostNotFound
	}
	cp := *h
	return &cp, nil
}

func (r *InMemoryRepository) ListHosts(ctx context.Context) ([]*models.Host, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	hosts := make([]*models.Host, 0, len(r.hosts))
	for _, h := range r.hosts {
		cp := *h
		hosts = append(hosts, &cp)
	}
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].Hostname < hosts[j].Hostname })
	return hosts, nil
}

func (r *InMemoryRepository) UpdateHost(ctx context.Context, h *models.Host) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, exists := r.hosts[h.ID]
	if !exists {
		return ErrHostNotFound
	}

	if old.AgentID != "" && old.AgentID != h.AgentID {
		delete(r.hostsByAgent, old.AgentID)
	}

	cp := *h
	cp.UpdatedAt = time.Now()
	r.hosts[h.ID] = &cp
	r.hostsByName[strings.ToLower(h.Hostname)] = &cp
	if h.AgentID != "" {
		r.hostsByAgent[h.AgentID] = &cp
	}
	return nil
}

func (r *InMemoryRepository) UpsertDiscoveredHost(ctx context.Context, hostname, distinguishedName, osName string) (*models.Host, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	key := strings.ToLower(hostname)
	if h, exists := r.hostsByName[key]; exists {
		h.DistinguishedName = distinguishedName
		if osName != "" {
			h.OS = osName
		}
		h.UpdatedAt = now
		cp := *h
		return &cp, nil
	}

	id, _ := uuid.NewV7()
	h := &models.Host{
		ID:                id.String(),
		Hostname:          hostname,
		DistinguishedName: distinguishedName,
		OS:                osName,
		Managed:           models.ManagedDirect,
		Active:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	r.hosts[h.ID] = h
	r.hostsByName[key] = h
	cp := *h
	return &cp, nil
}

// --- Job operations ---

func (r *InMemoryRepository) CreateJob(ctx context.Context, job *models.Job, hostIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, hostID := range hostIDs {
		if _, exists := r.hosts[hostID]; !exists {
			return ErrHostNotFound
		}
	}

	cp := *job
	r.jobs[job.ID] = &cp

	results := make([]*models.JobResult, 0, len(hostIDs))
	for _, hostID := range hostIDs {
		rid, _ := uuid.NewV7()
		results = append(results, &models.JobResult{
			ID:       rid.String(),
			JobID:    job.ID,
			HostID:   hostID,
			Hostname: r.hosts[hostID].Hostname,
			State:    models.ResultPending,
			Dispatch: models.DispatchDirect,
		})
	}
	r.results[job.ID] = results
	return nil
}

func (r *InMemoryRepository) GetJob(ctx context.Context, id string) (*models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, exists := r.jobs[id]
	if !exists {
		return nil, ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (r *InMemoryRepository) GetJobResults(ctx context.Context, jobID string) ([]*models.JobResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, exists := r.jobs[jobID]; !exists {
		return nil, ErrJobNotFound
	}

	results := make([]*models.JobResult, 0, len(r.results[jobID]))
	for _, res := range r.results[jobID] {
		cp := *res
		results = append(results, &cp)
	}
	return results, nil
}

func (r *InMemoryRepository) ListJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]*models.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		cp := *j
		jobs = append(jobs, &cp)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (r *InMemoryRepository) MarkJobRunning(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, exists := r.jobs[id]
	if !exists {
		return ErrJobNotFound
	}
	// Monotonic transitions only
	if j.Status != models.JobPending {
		return nil
	}
	j.Status = models.JobRunning
	j.StartedAt = &at
	return nil
}

func (r *InMemoryRepository) CancelJob(ctx context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, exists := r.jobs[id]
	if !exists {
		return false, ErrJobNotFound
	}
	if j.Status.Terminal() {
		return false, nil
	}
	j.Status = models.JobCancelled
	j.CompletedAt = &at
	return true, nil
}

func (r *InMemoryRepository) SetResultDispatch(ctx context.Context, jobID, hostID string, mode models.DispatchMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, res := range r.results[jobID] {
		if res.HostID == hostID && res.State == models.ResultPending {
			res.Dispatch = mode
			return nil
		}
	}
	return ErrResultNotFound
}

func (r *InMemoryRepository) CompleteResult(ctx context.Context, jobID, hostID string, mode models.DispatchMode, state models.ResultState, detail string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, res := range r.results[jobID] {
		if res.HostID == hostID && res.Dispatch == mode {
			res.State = state
			res.Detail = detail
			res.CompletedAt = &at
			return nil
		}
	}
	return ErrResultNotFound
}

func (r *InMemoryRepository) CompleteJobIfDone(ctx context.Context, jobID string, at time.Time) (models.JobStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, exists := r.jobs[jobID]
	if !exists {
		return "", ErrJobNotFound
	}
	if j.Status.Terminal() {
		return "", nil
	}

	allSucceeded := true
	for _, res := range r.results[jobID] {
		if !res.State.Terminal() {
			return "", nil
		}
		if res.State == models.ResultFailed {
			allSucceeded = false
		}
	}

	status := models.JobCompletedWithErrors
	if allSucceeded {
		status = models.JobCompleted
	}
	j.Status = status
	j.CompletedAt = &at
	return status, nil
}

func (r *InMemoryRepository) PurgeJobs(ctx context.Context, olderThan time.Time) (int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var jobs, results int64
	for id, j := range r.jobs {
		if !j.Status.Terminal() || j.CompletedAt == nil || !j.CompletedAt.Before(olderThan) {
			continue
		}
		results += int64(len(r.results[id]))
		delete(r.results, id)
		delete(r.jobs, id)
		jobs++
	}
	return jobs, results, nil
}

// --- Scheduled job operations ---

func (r *InMemoryRepository) CreateScheduledJob(ctx context.Context, s *models.ScheduledJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *s
	cp.HostIDs = append([]string(nil), s.HostIDs...)
	r.schedules[s.ID] = &cp
	return nil
}

func (r *InMemoryRepository) ListScheduledJobs(ctx context.Context) ([]*models.ScheduledJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.ScheduledJob, 0, len(r.schedules))
	for _, s := range r.schedules {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	return out, nil
}

func (r *InMemoryRepository) DueScheduledJobs(ctx context.Context, now time.Time) ([]*models.ScheduledJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var due []*models.ScheduledJob
	for _, s := range r.schedules {
		if s.FiredJobID == nil && s.CancelledAt == nil && !s.RunAt.After(now) {
			cp := *s
			due = append(due, &cp)
		}
	}
	return due, nil
}

func (r *InMemoryRepository) MarkScheduledJobFired(ctx context.Context, id, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.schedules[id]
	if !exists || s.FiredJobID != nil {
		return ErrScheduleNotFound
	}
	s.FiredJobID = &jobID
	return nil
}

func (r *InMemoryRepository) CancelScheduledJob(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.schedules[id]
	if !exists || s.FiredJobID != nil || s.CancelledAt != nil {
		return ErrScheduleNotFound
	}
	s.CancelledAt = &at
	return nil
}

// --- Agent command operations ---

func (r *InMemoryRepository) CreateAgentCommand(ctx context.Context, c *models.AgentCommand) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *c
	r.commands[c.ID] = &cp
	return nil
}

func (r *InMemoryRepository) ClaimPendingCommands(ctx context.Context, hostID string, limit int, at time.Time) ([]*models.AgentCommand, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []*models.AgentCommand
	for _, c := range r.commands {
		if c.HostID == hostID && c.SentAt == nil && c.CompletedAt == nil {
			pending = append(pending, c)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	out := make([]*models.AgentCommand, 0, len(pending))
	for _, c := range pending {
		sentAt := at
		c.SentAt = &sentAt
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (r *InMemoryRepository) GetAgentCommand(ctx context.Context, commandID, hostID string) (*models.AgentCommand, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.commands[commandID]
	if !exists || c.HostID != hostID {
		return nil, ErrCommandNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *InMemoryRepository) CompleteAgentCommand(ctx context.Context, commandID, hostID, status, message string, payload map[string]any, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.commands[commandID]
	if !exists || c.HostID != hostID {
		return ErrCommandNotFound
	}
	c.CompletedAt = &at
	c.ResultStatus = status
	c.ResultMessage = message
	c.ResultPayload = payload
	return nil
}

// --- Noise analysis operations ---

func (r *InMemoryRepository) CreateNoiseRun(ctx context.Context, run *models.NoiseRun, results []*models.NoiseResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *run
	r.runs[run.ID] = &cp

	stored := make([]*models.NoiseResult, 0, len(results))
	for _, res := range results {
		rc := *res
		stored = append(stored, &rc)
	}
	r.runResults[run.ID] = stored
	return nil
}

func (r *InMemoryRepository) GetNoiseRun(ctx context.Context, id string) (*models.NoiseRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, exists := r.runs[id]
	if !exists {
		return nil, ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

func (r *InMemoryRepository) GetNoiseResults(ctx context.Context, runID string) ([]*models.NoiseResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, exists := r.runs[runID]; !exists {
		return nil, ErrRunNotFound
	}
	out := make([]*models.NoiseResult, 0, len(r.runResults[runID]))
	for _, res := range r.runResults[runID] {
		cp := *res
		out = append(out, &cp)
	}
	return out, nil
}

func (r *InMemoryRepository) ListNoiseRuns(ctx context.Context, hostID string, limit int) ([]*models.NoiseRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs := make([]*models.NoiseRun, 0, len(r.runs))
	for _, run := range r.runs {
		if hostID != "" && run.HostID != hostID {
			continue
		}
		cp := *run
		runs = append(runs, &cp)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (r *InMemoryRepository) LatestNoiseRun(ctx context.Context, hostID string, hours float64) (*models.NoiseRun, error) {
	runs, err := r.ListNoiseRuns(ctx, hostID, 0)
	if err != nil {
		return nil, err
	}
	for _, run := range runs {
		if run.TimeRangeHours == hours {
			return run, nil
		}
	}
	return nil, ErrRunNotFound
}

func (r *InMemoryRepository) DeleteNoiseRun(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runs[id]; !exists {
		return ErrRunNotFound
	}
	delete(r.runResults, id)
	delete(r.runs, id)
	return nil
}

func (r *InMemoryRepository) PurgeNoiseRuns(ctx context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, run := range r.runs {
		if run.CreatedAt.Before(olderThan) {
			delete(r.runResults, id)
			delete(r.runs, id)
			n++
		}
	}
	return n, nil
}

// --- Sysmon config operations ---

func (r *InMemoryRepository) CreateSysmonConfig(ctx context.Context, c *models.SysmonConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *c
	r.configs[c.ID] = &cp
	return nil
}

func (r *InMemoryRepository) GetSysmonConfig(ctx context.Context, id string) (*models.SysmonConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.configs[id]
	if !exists {
		return nil, ErrConfigNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *InMemoryRepository) ListSysmonConfigs(ctx context.Context) ([]*models.SysmonConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.SysmonConfig, 0, len(r.configs))
	for _, c := range r.configs {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *InMemoryRepository) UpdateSysmonConfigContent(ctx context.Context, id, content, hash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.configs[id]
	if !exists {
		return ErrConfigNotFound
	}
	c.Content = content
	c.Hash = hash
	c.UpdatedAt = at
	return nil
}

// --- Utility ---

func (r *InMemoryRepository) Ping(ctx context.Context) error { return nil }

func (r *InMemoryRepository) Close() error { return nil }
