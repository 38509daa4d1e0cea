package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kestrelsec/sysmonfleet/internal/models"
)

// HostProgress is one host's outcome within a running job.
type HostProgress struct {
	JobID     string    `json:"job_id"`
	HostID    string    `json:"host_id"`
	Hostname  string    `json:"hostname"`
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// JobStatusEvent is a job lifecycle transition.
type JobStatusEvent struct {
	JobID     string           `json:"job_id"`
	Operation models.Operation `json:"operation"`
	Status    models.JobStatus `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
}

// AgentSeenEvent is one agent heartbeat sighting.
type AgentSeenEvent struct {
	AgentID   string    `json:"agent_id"`
	HostID    string    `json:"host_id"`
	Hostname  string    `json:"hostname"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher publishes deployment events over NATS. A nil connection makes
// every publish a no-op so the worker never depends on the bus being up.
type Publisher struct {
	conn *nats.Conn
}

// NewPublisher creates a publisher over an established connection. Pass
// nil to disable publishing.
func NewPublisher(conn *nats.Conn) *Publisher {
	return &Publisher{conn: conn}
}

// Connect dials NATS with the standard options.
func Connect(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return conn, nil
}

// Enabled returns whether publishing is active.
func (p *Publisher) Enabled() bool {
	return p != nil && p.conn != nil
}

// PublishProgress publishes one host's outcome on the job's subject.
func (p *Publisher) PublishProgress(progress *HostProgress) error {
	if progress.Timestamp.IsZero() {
		progress.Timestamp = time.Now().UTC()
	}
	return p.publish(JobProgressSubject(progress.JobID), progress)
}

// PublishJobStatus publishes a job lifecycle transition.
func (p *Publisher) PublishJobStatus(event *JobStatusEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return p.publish(SubjectJobStatus, event)
}

// PublishAgentSeen publishes an agent heartbeat sighting.
func (p *Publisher) PublishAgentSeen(event *AgentSeenEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return p.publish(SubjectAgentSeen, event)
}

func (p *Publisher) publish(subject string, data interface{}) error {
	if !p.Enabled() {
		return nil
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}
