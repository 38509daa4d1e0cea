// Package agentapi implements the pull-based agent protocol: shared-secret
// registration, authenticated heartbeats that double as command delivery,
// and asynchronous result submission.
package agentapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kestrelsec/sysmonfleet/internal/config"
	"github.com/kestrelsec/sysmonfleet/internal/logging"
	"github.com/kestrelsec/sysmonfleet/internal/metrics"
	"github.com/kestrelsec/sysmonfleet/internal/models"
	"github.com/kestrelsec/sysmonfleet/internal/notify"
	"github.com/kestrelsec/sysmonfleet/internal/repository"
)

// ErrNotAuthorized is returned for any credential failure on the agent
// endpoints. It carries no detail on purpose; agents get a bare rejection.
var ErrNotAuthorized = errors.New("not authorized")

// Service implements the agent-facing protocol operations.
type Service struct {
	repo      repository.Repository
	cfg       config.AgentConfig
	publisher *notify.Publisher
	logger    *logging.Logger
}

// NewService creates the agent protocol service.
func NewService(repo repository.Repository, cfg config.AgentConfig, publisher *notify.Publisher, logger *logging.Logger) *Service {
	return &Service{repo: repo, cfg: cfg, publisher: publisher, logger: logger}
}

// Register admits an agent that presents the shared registration secret
// and issues it a per-host auth token. Re-registration by a known agent
// rotates the token. An agent landing on a hostname already tracked for
// direct management converts that host to agent management in place; a
// host never gets a second row.
func (s *Service) Register(ctx context.Context, req *models.RegisterRequest) (*models.RegisterResponse, error) {
	if req.AgentID == "" || req.Hostname == "" {
		return &models.RegisterResponse{Accepted: false}, nil
	}
	if s.cfg.RegistrationSecretHash == "" {
		return &models.RegisterResponse{Accepted: false}, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.RegistrationSecretHash), []byte(req.Secret)); err != nil {
		s.logger.Warn("agent registration rejected", "agent_id", req.AgentID)
		return &models.RegisterResponse{Accepted: false}, nil
	}

	token, tokenHash, err := newToken()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	host, err := s.repo.GetHostByAgentID(ctx, req.AgentID)
	if err != nil && !errors.Is(err, repository.ErrHostNotFound) {
		return nil, err
	}
	if host == nil {
		host, err = s.repo.GetHostByHostname(ctx, req.Hostname)
		if err != nil && !errors.Is(err, repository.ErrHostNotFound) {
			return nil, err
		}
	}

	if host != nil {
		host.Hostname = strings.ToLower(req.Hostname)
		host.Managed = models.ManagedAgent
		host.AgentID = req.AgentID
		host.TokenHash = tokenHash
		host.PollIntervalSeconds = s.cfg.PollIntervalSeconds
		if req.OS != "" {
			host.OS = req.OS
		}
		host.LastSeenAt = &now
		host.Active = true
		host.UpdatedAt = now
		if err := s.repo.UpdateHost(ctx, host); err != nil {
			return nil, err
		}
	} else {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, err
		}
		host = &models.Host{
			ID:                  id.String(),
			Hostname:            strings.ToLower(req.Hostname),
			OS:                  req.OS,
			Managed:             models.ManagedAgent,
			AgentID:             req.AgentID,
			TokenHash:           tokenHash,
			PollIntervalSeconds: s.cfg.PollIntervalSeconds,
			LastSeenAt:          &now,
			Active:              true,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if err := s.repo.CreateHost(ctx, host); err != nil {
			return nil, err
		}
	}

	s.logger.Info("agent registered",
		"agent_id", req.AgentID, "hostname", host.Hostname, "host_id", host.ID)
	return &models.RegisterResponse{
		Accepted:            true,
		HostID:              host.ID,
		AuthToken:           token,
		PollIntervalSeconds: host.PollIntervalSeconds,
	}, nil
}

// Heartbeat records an agent sighting, refreshes its reported state and
// hands back a batch of pending commands. A bad credential yields
// Registered=false with nothing else, telling the agent to re-register.
func (s *Service) Heartbeat(ctx context.Context, req *models.HeartbeatRequest) (*models.HeartbeatResponse, error) {
	host, err := s.authenticate(ctx, req.AgentID, req.AuthToken)
	if err != nil {
		if errors.Is(err, ErrNotAuthorized) {
			metrics.AgentHeartbeats.WithLabelValues("rejected").Inc()
			return &models.HeartbeatResponse{Registered: false}, nil
		}
		return nil, err
	}

	now := time.Now().UTC()
	host.LastSeenAt = &now
	if req.SysmonVersion != "" {
		host.SysmonVersion = req.SysmonVersion
	}
	if req.SysmonPath != "" {
		host.SysmonPath = req.SysmonPath
	}
	if req.ConfigHash != "" {
		host.ConfigHash = req.ConfigHash
	}
	if req.OS != "" {
		host.OS = req.OS
	}
	host.UpdatedAt = now
	if err := s.repo.UpdateHost(ctx, host); err != nil {
		return nil, err
	}

	batch := s.cfg.CommandBatchSize
	if batch <= 0 {
		batch = 10
	}
	commands, err := s.repo.ClaimPendingCommands(ctx, host.ID, batch, now)
	if err != nil {
		return nil, err
	}

	metrics.AgentHeartbeats.WithLabelValues("accepted").Inc()
	metrics.AgentCommandsDelivered.Add(float64(len(commands)))

	if err := s.publisher.PublishAgentSeen(&notify.AgentSeenEvent{
		AgentID:  req.AgentID,
		HostID:   host.ID,
		Hostname: host.Hostname,
	}); err != nil {
		s.logger.Error("failed to publish agent sighting", "agent_id", req.AgentID, "error", err)
	}

	return &models.HeartbeatResponse{
		Registered:             true,
		PendingCommands:        commands,
		NewPollIntervalSeconds: host.PollIntervalSeconds,
	}, nil
}

// SubmitResult records a command outcome. When the command belongs to a
// deployment job the host's result row is closed through the agent
// dispatch path and the job completion barrier re-runs.
func (s *Service) SubmitResult(ctx context.Context, req *models.SubmitResultRequest) error {
	host, err := s.authenticate(ctx, req.AgentID, req.AuthToken)
	if err != nil {
		metrics.AgentResultsSubmitted.WithLabelValues("rejected").Inc()
		return err
	}

	cmd, err := s.repo.GetAgentCommand(ctx, req.CommandID, host.ID)
	if err != nil {
		metrics.AgentResultsSubmitted.WithLabelValues("rejected").Inc()
		return err
	}
	if cmd.CompletedAt != nil {
		// Duplicate submission, likely an agent retry.
		metrics.AgentResultsSubmitted.WithLabelValues("duplicate").Inc()
		return nil
	}

	now := time.Now().UTC()
	if err := s.repo.CompleteAgentCommand(ctx, cmd.ID, host.ID, req.Status, req.Message, req.Payload, now); err != nil {
		return err
	}
	metrics.AgentResultsSubmitted.WithLabelValues("accepted").Inc()

	if cmd.JobID == nil {
		return nil
	}

	state := models.ResultFailed
	if req.Status == "succeeded" {
		state = models.ResultSucceeded
	}
	if err := s.repo.CompleteResult(ctx, *cmd.JobID, host.ID, models.DispatchAgent, state, req.Message, now); err != nil {
		return err
	}

	if err := s.publisher.PublishProgress(&notify.HostProgress{
		JobID:    *cmd.JobID,
		HostID:   host.ID,
		Hostname: host.Hostname,
		Success:  state == models.ResultSucceeded,
		Message:  req.Message,
	}); err != nil {
		s.logger.Error("failed to publish progress", "job_id", *cmd.JobID, "error", err)
	}

	status, err := s.repo.CompleteJobIfDone(ctx, *cmd.JobID, now)
	if err != nil {
		return err
	}
	if status != "" {
		metrics.JobsCompleted.WithLabelValues(string(status)).Inc()
		if err := s.publisher.PublishJobStatus(&notify.JobStatusEvent{
			JobID:     *cmd.JobID,
			Operation: cmd.Type,
			Status:    status,
		}); err != nil {
			s.logger.Error("failed to publish job status", "job_id", *cmd.JobID, "error", err)
		}
		s.logger.Info("job complete", "job_id", *cmd.JobID, "status", string(status))
	}
	return nil
}

func (s *Service) authenticate(ctx context.Context, agentID, token string) (*models.Host, error) {
	if agentID == "" || token == "" {
		return nil, ErrNotAuthorized
	}
	host, err := s.repo.GetHostByAgentID(ctx, agentID)
	if err != nil {
		if errors.Is(err, repository.ErrHostNotFound) {
			return nil, ErrNotAuthorized
		}
		return nil, err
	}
	if !tokenMatches(token, host.TokenHash) {
		return nil, ErrNotAuthorized
	}
	return host, nil
}
