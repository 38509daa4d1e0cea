package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobProgressSubject(t *testing.T) {
	assert.Equal(t, "deploy.jobs.progress.abc123", JobProgressSubject("abc123"))
}

func TestPublisher_DisabledIsNoop(t *testing.T) {
	p := NewPublisher(nil)
	assert.False(t, p.Enabled())

	assert.NoError(t, p.PublishProgress(&HostProgress{JobID: "j1", HostID: "h1"}))
	assert.NoError(t, p.PublishJobStatus(&JobStatusEvent{JobID: "j1"}))
	assert.NoError(t, p.PublishAgentSeen(&AgentSeenEvent{AgentID: "a1"}))
}
