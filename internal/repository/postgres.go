package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kestrelsec/sysmonfleet/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const hostColumns = `id, hostname, distinguished_name, os, sysmon_version, sysmon_path,
	config_hash, role, managed, agent_id, token_hash, poll_interval_seconds,
	last_seen_at, last_scan_status, active, created_at, updated_at`

func scanHost(row pgx.Row) (*models.Host, error) {
	h := &models.Host{}
	err := row.Scan(
		&h.ID, &h.Hostname, &h.DistinguishedName, &h.OS, &h.SysmonVersion, &h.SysmonPath,
		&h.ConfigHash, &h.Role, &h.Managed, &h.AgentID, &h.TokenHash, &h.PollIntervalSeconds,
		&h.LastSeenAt, &h.LastScanStatus, &h.Active, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrHostNotFound
		}
		return nil, fmt.Errorf("failed to scan host: %w", err)
	}
	return h, nil
}

// CreateHost inserts a new host row
func (r *PostgresRepository) CreateHost(ctx context.Context, h *models.Host) error {
	query := `
		INSERT INTO hosts (id, hostname, distinguished_name, os, sysmon_version, sysmon_path,
			config_hash, role, managed, agent_id, token_hash, poll_interval_seconds,
			last_seen_at, last_scan_status, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := r.pool.Exec(ctx, query,
		h.ID, h.Hostname, h.DistinguishedName, h.OS, h.SysmonVersion, h.SysmonPath,
		h.ConfigHash, h.Role, h.Managed, h.AgentID, h.TokenHash, h.PollIntervalSeconds,
		h.LastSeenAt, h.LastScanStatus, h.Active, h.CreatedAt, h.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrHostExists
		}
		return fmt.Errorf("failed to create host: %w", err)
	}
	return nil
}

// GetHostByID retrieves a host by id
func (r *PostgresRepository) GetHostByID(ctx context.Context, id string) (*models.Host, error) {
	query := fmt.Sprintf(`SELECT %s FROM hosts WHERE id = $1`, hostColumns)
	return scanHost(r.pool.QueryRow(ctx, query, id))
}

// GetHostByHostname retrieves a host by its unique hostname
func (r *PostgresRepository) GetHostByHostname(ctx context.Context, hostname string) (*models.Host, error) {
	query := fmt.Sprintf(`SELECT %s FROM hosts WHERE LOWER(hostname) = LOWER($1)`, hostColumns)
	return scanHost(r.pool.QueryRow(ctx, query, hostname))
}

// GetHostByAgentID retrieves a host by its opaque agent identifier
func (r *PostgresRepository) GetHostByAgentID(ctx context.Context, agentID string) (*models.Host, error) {
	query := fmt.Sprintf(`SELECT %s FROM hosts WHERE agent_id = $1`, hostColumns)
	return scanHost(r.pool.QueryRow(ctx, query, agentID))
}

// ListHosts retrieves all hosts
func (r *PostgresRepository) ListHosts(ctx context.Context) ([]*models.Host, error) {
	query := fmt.Sprintf(`SELECT %s FROM hosts ORDER BY hostname`, hostColumns)
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	defer rows.Close()

	hosts := []*models.Host{}
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

// UpdateHost persists all mutable host fields
func (r *PostgresRepository) UpdateHost(ctx context.Context, h *models.Host) error {
	query := `
		UPDATE hosts SET hostname = $2, distinguished_name = $3, os = $4,
			sysmon_version = $5, sysmon_path = $6, config_hash = $7, role = $8,
			managed = $9, agent_id = $10, token_hash = $11, poll_interval_seconds = $12,
			last_seen_at = $13, last_scan_status = $14, active = $15, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query,
		h.ID, h.Hostname, h.DistinguishedName, h.OS, h.SysmonVersion, h.SysmonPath,
		h.ConfigHash, h.Role, h.Managed, h.AgentID, h.TokenHash, h.PollIntervalSeconds,
		h.LastSeenAt, h.LastScanStatus, h.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to update host: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrHostNotFound
	}
	return nil
}

// UpsertDiscoveredHost creates or refreshes a host found by directory enumeration
func (r *PostgresRepository) UpsertDiscoveredHost(ctx context.Context, hostname, distinguishedName, osName string) (*models.Host, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		INSERT INTO hosts (id, hostname, distinguished_name, os, managed, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'direct', TRUE, NOW(), NOW())
		ON CONFLICT (hostname) DO UPDATE SET
			distinguished_name = EXCLUDED.distinguished_name,
			os = CASE WHEN EXCLUDED.os <> '' THEN EXCLUDED.os ELSE hosts.os END,
			updated_at = NOW()
		RETURNING %s
	`, hostColumns)
	return scanHost(r.pool.QueryRow(ctx, query, id.String(), hostname, distinguishedName, osName))
}

// CreateJob inserts the job and one pending result per targeted host in a
// single transaction, so the result count is fixed at creation.
func (r *PostgresRepository) CreateJob(ctx context.Context, job *models.Job, hostIDs []string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (id, operation, config_id, sysmon_version, created_by, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, job.ID, job.Operation, job.ConfigID, job.SysmonVersion, job.CreatedBy, job.Status, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	for _, hostID := range hostIDs {
		rid, err := uuid.NewV7()
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO job_results (id, job_id, host_id, state, dispatch)
			SELECT $1, $2, id, 'pending', 'direct' FROM hosts WHERE id = $3
		`, rid.String(), job.ID, hostID)
		if err != nil {
			return fmt.Errorf("failed to create job result: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrHostNotFound
		}
	}

	return tx.Commit(ctx)
}

// GetJob retrieves a job by id
func (r *PostgresRepository) GetJob(ctx context.Context, id string) (*models.Job, error) {
	query := `
		SELECT id, operation, config_id, sysmon_version, created_by, status,
			created_at, started_at, completed_at
		FROM jobs WHERE id = $1
	`
	j := &models.Job{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&j.ID, &j.Operation, &j.ConfigID, &j.SysmonVersion, &j.CreatedBy, &j.Status,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

// GetJobResults retrieves all per-host results for a job
func (r *PostgresRepository) GetJobResults(ctx context.Context, jobID string) ([]*models.JobResult, error) {
	query := `
		SELECT jr.id, jr.job_id, jr.host_id, h.hostname, jr.state, jr.detail, jr.dispatch, jr.completed_at
		FROM job_results jr
		JOIN hosts h ON h.id = jr.host_id
		WHERE jr.job_id = $1
		ORDER BY h.hostname
	`
	rows, err := r.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get job results: %w", err)
	}
	defer rows.Close()

	results := []*models.JobResult{}
	for rows.Next() {
		res := &models.JobResult{}
		if err := rows.Scan(&res.ID, &res.JobID, &res.HostID, &res.Hostname,
			&res.State, &res.Detail, &res.Dispatch, &res.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job result: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// ListJobs retrieves jobs newest-first
func (r *PostgresRepository) ListJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	query := `
		SELECT id, operation, config_id, sysmon_version, created_by, status,
			created_at, started_at, completed_at
		FROM jobs ORDER BY created_at DESC LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		j := &models.Job{}
		if err := rows.Scan(&j.ID, &j.Operation, &j.ConfigID, &j.SysmonVersion, &j.CreatedBy,
			&j.Status, &j.CreatedAt, &j.StartedAt, &j.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// MarkJobRunning transitions a pending job to running
func (r *PostgresRepository) MarkJobRunning(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE jobs SET status = 'running', started_at = $2 WHERE id = $1 AND status = 'pending'`
	_, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	return nil
}

// CancelJob flips a non-terminal job to cancelled. The status guard makes
// repeated cancellation a no-op without a second CompletedAt stamp.
func (r *PostgresRepository) CancelJob(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `
		UPDATE jobs SET status = 'cancelled', completed_at = $2
		WHERE id = $1 AND status IN ('pending', 'running')
	`
	tag, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetJob(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// SetResultDispatch tags a pending result row with its delivery path
func (r *PostgresRepository) SetResultDispatch(ctx context.Context, jobID, hostID string, mode models.DispatchMode) error {
	query := `UPDATE job_results SET dispatch = $3 WHERE job_id = $1 AND host_id = $2 AND state = 'pending'`
	tag, err := r.pool.Exec(ctx, query, jobID, hostID, mode)
	if err != nil {
		return fmt.Errorf("failed to set result dispatch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrResultNotFound
	}
	return nil
}

// CompleteResult writes a host's terminal outcome. The dispatch predicate
// keeps the direct and agent paths from racing on the same row.
func (r *PostgresRepository) CompleteResult(ctx context.Context, jobID, hostID string, mode models.DispatchMode, state models.ResultState, detail string, at time.Time) error {
	query := `
		UPDATE job_results SET state = $4, detail = $5, completed_at = $6
		WHERE job_id = $1 AND host_id = $2 AND dispatch = $3
	`
	tag, err := r.pool.Exec(ctx, query, jobID, hostID, mode, state, detail, at)
	if err != nil {
		return fmt.Errorf("failed to complete result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrResultNotFound
	}
	return nil
}

// CompleteJobIfDone locks the job row, reads a consistent snapshot of its
// results, and sets the terminal status when none are pending. Concurrent
// callers serialize on the row lock so the last completion wins the check.
func (r *PostgresRepository) CompleteJobIfDone(ctx context.Context, jobID string, at time.Time) (models.JobStatus, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status models.JobStatus
	err = tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrJobNotFound
		}
		return "", fmt.Errorf("failed to lock job: %w", err)
	}
	if status.Terminal() {
		return "", nil
	}

	var pending, failed int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE state = 'pending'),
		       COUNT(*) FILTER (WHERE state = 'failed')
		FROM job_results WHERE job_id = $1
	`, jobID).Scan(&pending, &failed)
	if err != nil {
		return "", fmt.Errorf("failed to count job results: %w", err)
	}
	if pending > 0 {
		return "", nil
	}

	final := models.JobCompleted
	if failed > 0 {
		final = models.JobCompletedWithErrors
	}
	if _, err := tx.Exec(ctx, `UPDATE jobs SET status = $2, completed_at = $3 WHERE id = $1`, jobID, final, at); err != nil {
		return "", fmt.Errorf("failed to complete job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return final, nil
}

// PurgeJobs deletes aged terminal jobs, results before jobs
func (r *PostgresRepository) PurgeJobs(ctx context.Context, olderThan time.Time) (int64, int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	resTag, err := tx.Exec(ctx, `
		DELETE FROM job_results WHERE job_id IN (
			SELECT id FROM jobs
			WHERE status IN ('completed', 'completed_with_errors', 'cancelled')
			AND completed_at < $1
		)
	`, olderThan)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to purge job results: %w", err)
	}

	jobTag, err := tx.Exec(ctx, `
		DELETE FROM jobs
		WHERE status IN ('completed', 'completed_with_errors', 'cancelled')
		AND completed_at < $1
	`, olderThan)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to purge jobs: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to commit purge: %w", err)
	}
	return jobTag.RowsAffected(), resTag.RowsAffected(), nil
}

// CreateScheduledJob inserts a deferred job specification
func (r *PostgresRepository) CreateScheduledJob(ctx context.Context, s *models.ScheduledJob) error {
	query := `
		INSERT INTO scheduled_jobs (id, operation, config_id, sysmon_version, host_ids, run_at, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		s.ID, s.Operation, s.ConfigID, s.SysmonVersion, s.HostIDs, s.RunAt, s.CreatedBy, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduled job: %w", err)
	}
	return nil
}

func (r *PostgresRepository) scanScheduledJobs(rows pgx.Rows) ([]*models.ScheduledJob, error) {
	defer rows.Close()
	out := []*models.ScheduledJob{}
	for rows.Next() {
		s := &models.ScheduledJob{}
		if err := rows.Scan(&s.ID, &s.Operation, &s.ConfigID, &s.SysmonVersion, &s.HostIDs,
			&s.RunAt, &s.CreatedBy, &s.CreatedAt, &s.FiredJobID, &s.CancelledAt); err != nil {
			return nil, fmt.Errorf("failed to scan scheduled job: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListScheduledJobs retrieves all scheduled jobs ordered by fire time
func (r *PostgresRepository) ListScheduledJobs(ctx context.Context) ([]*models.ScheduledJob, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, operation, config_id, sysmon_version, host_ids, run_at, created_by, created_at, fired_job_id, cancelled_at
		FROM scheduled_jobs ORDER BY run_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled jobs: %w", err)
	}
	return r.scanScheduledJobs(rows)
}

// DueScheduledJobs retrieves unfired, uncancelled schedules that are due
func (r *PostgresRepository) DueScheduledJobs(ctx context.Context, now time.Time) ([]*models.ScheduledJob, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, operation, config_id, sysmon_version, host_ids, run_at, created_by, created_at, fired_job_id, cancelled_at
		FROM scheduled_jobs
		WHERE fired_job_id IS NULL AND cancelled_at IS NULL AND run_at <= $1
		ORDER BY run_at
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due scheduled jobs: %w", err)
	}
	return r.scanScheduledJobs(rows)
}

// MarkScheduledJobFired links a schedule to the job it materialized into
func (r *PostgresRepository) MarkScheduledJobFired(ctx context.Context, id, jobID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE scheduled_jobs SET fired_job_id = $2 WHERE id = $1 AND fired_job_id IS NULL`, id, jobID)
	if err != nil {
		return fmt.Errorf("failed to mark scheduled job fired: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// CancelScheduledJob cancels an unfired schedule
func (r *PostgresRepository) CancelScheduledJob(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE scheduled_jobs SET cancelled_at = $2 WHERE id = $1 AND fired_job_id IS NULL AND cancelled_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("failed to cancel scheduled job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// CreateAgentCommand inserts a unit of work for a polling agent
func (r *PostgresRepository) CreateAgentCommand(ctx context.Context, c *models.AgentCommand) error {
	payload, err := json.Marshal(c.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal command payload: %w", err)
	}
	query := `
		INSERT INTO agent_commands (id, host_id, type, job_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := r.pool.Exec(ctx, query, c.ID, c.HostID, c.Type, c.JobID, payload, c.CreatedAt); err != nil {
		return fmt.Errorf("failed to create agent command: %w", err)
	}
	return nil
}

// ClaimPendingCommands returns up to limit unsent commands for the host and
// stamps SentAt in the same statement so they are not redelivered.
func (r *PostgresRepository) ClaimPendingCommands(ctx context.Context, hostID string, limit int, at time.Time) ([]*models.AgentCommand, error) {
	query := `
		UPDATE agent_commands SET sent_at = $3
		WHERE id IN (
			SELECT id FROM agent_commands
			WHERE host_id = $1 AND sent_at IS NULL AND completed_at IS NULL
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, host_id, type, job_id, payload, created_at, sent_at
	`
	rows, err := r.pool.Query(ctx, query, hostID, limit, at)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending commands: %w", err)
	}
	defer rows.Close()

	out := []*models.AgentCommand{}
	for rows.Next() {
		c := &models.AgentCommand{}
		var payload []byte
		if err := rows.Scan(&c.ID, &c.HostID, &c.Type, &c.JobID, &payload, &c.CreatedAt, &c.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent command: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &c.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal command payload: %w", err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetAgentCommand retrieves a command by (commandID, hostID)
func (r *PostgresRepository) GetAgentCommand(ctx context.Context, commandID, hostID string) (*models.AgentCommand, error) {
	query := `
		SELECT id, host_id, type, job_id, payload, created_at, sent_at, completed_at,
			result_status, result_message, result_payload
		FROM agent_commands WHERE id = $1 AND host_id = $2
	`
	c := &models.AgentCommand{}
	var payload, resultPayload []byte
	err := r.pool.QueryRow(ctx, query, commandID, hostID).Scan(
		&c.ID, &c.HostID, &c.Type, &c.JobID, &payload, &c.CreatedAt, &c.SentAt, &c.CompletedAt,
		&c.ResultStatus, &c.ResultMessage, &resultPayload,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCommandNotFound
		}
		return nil, fmt.Errorf("failed to get agent command: %w", err)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &c.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal command payload: %w", err)
		}
	}
	if len(resultPayload) > 0 {
		if err := json.Unmarshal(resultPayload, &c.ResultPayload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result payload: %w", err)
		}
	}
	return c, nil
}

// CompleteAgentCommand stamps a command's result fields
func (r *PostgresRepository) CompleteAgentCommand(ctx context.Context, commandID, hostID, status, message string, payload map[string]any, at time.Time) error {
	resultPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal result payload: %w", err)
	}
	query := `
		UPDATE agent_commands SET completed_at = $3, result_status = $4, result_message = $5, result_payload = $6
		WHERE id = $1 AND host_id = $2
	`
	tag, err := r.pool.Exec(ctx, query, commandID, hostID, at, status, message, resultPayload)
	if err != nil {
		return fmt.Errorf("failed to complete agent command: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCommandNotFound
	}
	return nil
}

// CreateNoiseRun inserts a run and its results atomically
func (r *PostgresRepository) CreateNoiseRun(ctx context.Context, run *models.NoiseRun, results []*models.NoiseResult) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO noise_runs (id, host_id, time_range_hours, total_events, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, run.ID, run.HostID, run.TimeRangeHours, run.TotalEvents, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create noise run: %w", err)
	}

	for _, res := range results {
		_, err = tx.Exec(ctx, `
			INSERT INTO noise_results (id, run_id, event_id, group_key, count, rate, score, level, exclusion_field, exclusion_value)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, res.ID, res.RunID, res.EventID, res.GroupKey, res.Count, res.Rate, res.Score, res.Level,
			res.ExclusionField, res.ExclusionValue)
		if err != nil {
			return fmt.Errorf("failed to create noise result: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetNoiseRun retrieves a run by id
func (r *PostgresRepository) GetNoiseRun(ctx context.Context, id string) (*models.NoiseRun, error) {
	run := &models.NoiseRun{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, host_id, time_range_hours, total_events, created_at FROM noise_runs WHERE id = $1
	`, id).Scan(&run.ID, &run.HostID, &run.TimeRangeHours, &run.TotalEvents, &run.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get noise run: %w", err)
	}
	return run, nil
}

// GetNoiseResults retrieves a run's results, noisiest first
func (r *PostgresRepository) GetNoiseResults(ctx context.Context, runID string) ([]*models.NoiseResult, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, run_id, event_id, group_key, count, rate, score, level, exclusion_field, exclusion_value
		FROM noise_results WHERE run_id = $1 ORDER BY score DESC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get noise results: %w", err)
	}
	defer rows.Close()

	out := []*models.NoiseResult{}
	for rows.Next() {
		res := &models.NoiseResult{}
		if err := rows.Scan(&res.ID, &res.RunID, &res.EventID, &res.GroupKey, &res.Count,
			&res.Rate, &res.Score, &res.Level, &res.ExclusionField, &res.ExclusionValue); err != nil {
			return nil, fmt.Errorf("failed to scan noise result: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// ListNoiseRuns retrieves runs newest-first, optionally filtered by host
func (r *PostgresRepository) ListNoiseRuns(ctx context.Context, hostID string, limit int) ([]*models.NoiseRun, error) {
	query := `
		SELECT id, host_id, time_range_hours, total_events, created_at
		FROM noise_runs
		WHERE ($1 = '' OR host_id = $1)
		ORDER BY created_at DESC LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, hostID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list noise runs: %w", err)
	}
	defer rows.Close()

	out := []*models.NoiseRun{}
	for rows.Next() {
		run := &models.NoiseRun{}
		if err := rows.Scan(&run.ID, &run.HostID, &run.TimeRangeHours, &run.TotalEvents, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan noise run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// LatestNoiseRun returns the newest run for a host with a matching window
func (r *PostgresRepository) LatestNoiseRun(ctx context.Context, hostID string, hours float64) (*models.NoiseRun, error) {
	run := &models.NoiseRun{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, host_id, time_range_hours, total_events, created_at
		FROM noise_runs WHERE host_id = $1 AND time_range_hours = $2
		ORDER BY created_at DESC LIMIT 1
	`, hostID, hours).Scan(&run.ID, &run.HostID, &run.TimeRangeHours, &run.TotalEvents, &run.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get latest noise run: %w", err)
	}
	return run, nil
}

// DeleteNoiseRun deletes a run and its results
func (r *PostgresRepository) DeleteNoiseRun(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM noise_results WHERE run_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete noise results: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM noise_runs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete noise run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return tx.Commit(ctx)
}

// PurgeNoiseRuns bulk-deletes aged runs, results first
func (r *PostgresRepository) PurgeNoiseRuns(ctx context.Context, olderThan time.Time) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM noise_results WHERE run_id IN (SELECT id FROM noise_runs WHERE created_at < $1)
	`, olderThan); err != nil {
		return 0, fmt.Errorf("failed to purge noise results: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM noise_runs WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge noise runs: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit purge: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CreateSysmonConfig inserts a stored configuration document
func (r *PostgresRepository) CreateSysmonConfig(ctx context.Context, c *models.SysmonConfig) error {
	query := `
		INSERT INTO sysmon_configs (id, name, content, hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := r.pool.Exec(ctx, query, c.ID, c.Name, c.Content, c.Hash, c.CreatedAt, c.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create sysmon config: %w", err)
	}
	return nil
}

// GetSysmonConfig retrieves a configuration by id
func (r *PostgresRepository) GetSysmonConfig(ctx context.Context, id string) (*models.SysmonConfig, error) {
	c := &models.SysmonConfig{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, content, hash, created_at, updated_at FROM sysmon_configs WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Content, &c.Hash, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to get sysmon config: %w", err)
	}
	return c, nil
}

// ListSysmonConfigs retrieves all stored configurations
func (r *PostgresRepository) ListSysmonConfigs(ctx context.Context) ([]*models.SysmonConfig, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, content, hash, created_at, updated_at FROM sysmon_configs ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sysmon configs: %w", err)
	}
	defer rows.Close()

	out := []*models.SysmonConfig{}
	for rows.Next() {
		c := &models.SysmonConfig{}
		if err := rows.Scan(&c.ID, &c.Name, &c.Content, &c.Hash, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sysmon config: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateSysmonConfigContent replaces a configuration's content and hash
func (r *PostgresRepository) UpdateSysmonConfigContent(ctx context.Context, id, content, hash string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sysmon_configs SET content = $2, hash = $3, updated_at = $4 WHERE id = $1`,
		id, content, hash, at)
	if err != nil {
		return fmt.Errorf("failed to update sysmon config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConfigNotFound
	}
	return nil
}
