package agentapi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/kestrelsec/sysmonfleet/internal/config"
	"github.com/kestrelsec/sysmonfleet/internal/logging"
	"github.com/kestrelsec/sysmonfleet/internal/models"
	"github.com/kestrelsec/sysmonfleet/internal/notify"
	"github.com/kestrelsec/sysmonfleet/internal/repository"
)

const testSecret = "fleet-registration-secret"

func newTestService(t *testing.T) (*Service, repository.Repository) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testSecret), bcrypt.MinCost)
	require.NoError(t, err)

	repo := repository.NewInMemoryRepository()
	svc := NewService(repo, config.AgentConfig{
		RegistrationSecretHash: string(hash),
		PollIntervalSeconds:    60,
		CommandBatchSize:       10,
	}, &notify.Publisher{}, logging.New(logging.ParseLevel("error"), "text"))
	return svc, repo
}

func register(t *testing.T, svc *Service, agentID, hostname string) *models.RegisterResponse {
	t.Helper()
	resp, err := svc.Register(context.Background(), &models.RegisterRequest{
		AgentID:  agentID,
		Secret:   testSecret,
		Hostname: hostname,
		OS:       "Windows 11",
	})
	require.NoError(t, err)
	require.True(t, resp.Accepted)
	require.NotEmpty(t, resp.AuthToken)
	return resp
}

func TestRegister_WrongSecretRejected(t *testing.T) {
	svc, _ := newTestService(t)

	resp, err := svc.Register(context.Background(), &models.RegisterRequest{
		AgentID:  "agent-1",
		Secret:   "wrong",
		Hostname: "ws-01",
	})
	require.NoError(t, err)
	assert.False(t, resp.Accepted)
	assert.Empty(t, resp.AuthToken)
	assert.Empty(t, resp.HostID)
}

func TestRegister_CreatesAgentHost(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	resp := register(t, svc, "agent-1", "WS-01")

	host, err := repo.GetHostByID(ctx, resp.HostID)
	require.NoError(t, err)
	assert.Equal(t, "ws-01", host.Hostname)
	assert.Equal(t, models.ManagedAgent, host.Managed)
	assert.Equal(t, "agent-1", host.AgentID)
	assert.NotEmpty(t, host.TokenHash)
	assert.NotEqual(t, resp.AuthToken, host.TokenHash)
	assert.Equal(t, 60, resp.PollIntervalSeconds)
}

func TestRegister_ConvertsDirectHostInPlace(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	direct := &models.Host{
		ID:        "host-1",
		Hostname:  "ws-01",
		Managed:   models.ManagedDirect,
		Role:      "workstation",
		Active:    true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, repo.CreateHost(ctx, direct))

	resp := register(t, svc, "agent-1", "ws-01")
	assert.Equal(t, direct.ID, resp.HostID)

	hosts, err := repo.ListHosts(ctx)
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, models.ManagedAgent, hosts[0].Managed)
	assert.Equal(t, "workstation", hosts[0].Role)
}

func TestRegister_RotatesToken(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first := register(t, svc, "agent-1", "ws-01")
	second := register(t, svc, "agent-1", "ws-01")
	assert.Equal(t, first.HostID, second.HostID)
	assert.NotEqual(t, first.AuthToken, second.AuthToken)

	// The old token no longer authenticates.
	hb, err := svc.Heartbeat(ctx, &models.HeartbeatRequest{
		AgentID:   "agent-1",
		AuthToken: first.AuthToken,
	})
	require.NoError(t, err)
	assert.False(t, hb.Registered)
}

func TestHeartbeat_WrongTokenRejectedWithoutDetail(t *testing.T) {
	svc, _ := newTestService(t)
	register(t, svc, "agent-1", "ws-01")

	hb, err := svc.Heartbeat(context.Background(), &models.HeartbeatRequest{
		AgentID:   "agent-1",
		AuthToken: "bogus",
	})
	require.NoError(t, err)
	assert.False(t, hb.Registered)
	assert.Empty(t, hb.PendingCommands)
}

func TestHeartbeat_UpdatesStateAndDeliversCommands(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	resp := register(t, svc, "agent-1", "ws-01")

	cmd := &models.AgentCommand{
		ID:        "cmd-1",
		HostID:    resp.HostID,
		Type:      models.OpPushConfig,
		Payload:   map[string]any{"config_xml": "<Sysmon/>"},
		CreatedAt: time.Now(),
	}
	require.NoError(t, repo.CreateAgentCommand(ctx, cmd))

	hb, err := svc.Heartbeat(ctx, &models.HeartbeatRequest{
		AgentID:       "agent-1",
		AuthToken:     resp.AuthToken,
		SysmonVersion: "15.15",
		ConfigHash:    "deadbeef",
	})
	require.NoError(t, err)
	assert.True(t, hb.Registered)
	require.Len(t, hb.PendingCommands, 1)
	assert.Equal(t, "cmd-1", hb.PendingCommands[0].ID)

	host, err := repo.GetHostByID(ctx, resp.HostID)
	require.NoError(t, err)
	assert.Equal(t, "15.15", host.SysmonVersion)
	assert.Equal(t, "deadbeef", host.ConfigHash)
	require.NotNil(t, host.LastSeenAt)

	// Claimed commands are not redelivered on the next heartbeat.
	hb2, err := svc.Heartbeat(ctx, &models.HeartbeatRequest{
		AgentID:   "agent-1",
		AuthToken: resp.AuthToken,
	})
	require.NoError(t, err)
	assert.Empty(t, hb2.PendingCommands)
}

func TestSubmitResult_CrossHostCommandRejected(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	a := register(t, svc, "agent-a", "ws-01")
	b := register(t, svc, "agent-b", "ws-02")

	cmd := &models.AgentCommand{
		ID:        "cmd-1",
		HostID:    a.HostID,
		Type:      models.OpTest,
		CreatedAt: time.Now(),
	}
	require.NoError(t, repo.CreateAgentCommand(ctx, cmd))

	err := svc.SubmitResult(ctx, &models.SubmitResultRequest{
		AgentID:   "agent-b",
		AuthToken: b.AuthToken,
		CommandID: "cmd-1",
		Status:    "succeeded",
	})
	assert.ErrorIs(t, err, repository.ErrCommandNotFound)
}

func TestSubmitResult_ClosesJobResult(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	resp := register(t, svc, "agent-1", "ws-01")

	job := &models.Job{
		ID:        "job-1",
		Operation: models.OpInstall,
		CreatedBy: "tester",
		Status:    models.JobPending,
		CreatedAt: time.Now(),
	}
	require.NoError(t, repo.CreateJob(ctx, job, []string{resp.HostID}))
	require.NoError(t, repo.MarkJobRunning(ctx, job.ID, time.Now()))
	require.NoError(t, repo.SetResultDispatch(ctx, job.ID, resp.HostID, models.DispatchAgent))

	jobID := job.ID
	cmd := &models.AgentCommand{
		ID:        "cmd-1",
		HostID:    resp.HostID,
		Type:      models.OpInstall,
		JobID:     &jobID,
		CreatedAt: time.Now(),
	}
	require.NoError(t, repo.CreateAgentCommand(ctx, cmd))

	require.NoError(t, svc.SubmitResult(ctx, &models.SubmitResultRequest{
		AgentID:   "agent-1",
		AuthToken: resp.AuthToken,
		CommandID: "cmd-1",
		Status:    "succeeded",
		Message:   "installed 15.15",
	}))

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.Status)

	results, err := repo.GetJobResults(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.ResultSucceeded, results[0].State)
	assert.Equal(t, "installed 15.15", results[0].Detail)

	// A duplicate submission is absorbed without touching the result.
	require.NoError(t, svc.SubmitResult(ctx, &models.SubmitResultRequest{
		AgentID:   "agent-1",
		AuthToken: resp.AuthToken,
		CommandID: "cmd-1",
		Status:    "failed",
		Message:   "retry",
	}))
	results, err = repo.GetJobResults(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResultSucceeded, results[0].State)
	assert.Equal(t, "installed 15.15", results[0].Detail)
}

func TestTokenMatches(t *testing.T) {
	plain, hash, err := newToken()
	require.NoError(t, err)
	assert.Len(t, plain, tokenBytes*2)
	assert.True(t, tokenMatches(plain, hash))
	assert.False(t, tokenMatches("other", hash))
	assert.False(t, tokenMatches(plain, ""))
}
