// Package notify publishes deployment progress to the message bus so
// operator UIs can follow jobs live.
package notify

// Subject constants for the sysmonfleet message bus.
// Follow the pattern: {domain}.{action}.{resource}
const (
	// SubjectJobStatus carries job lifecycle transitions.
	SubjectJobStatus = "deploy.jobs.status"

	// SubjectJobProgress is the prefix for per-job host progress; the job
	// id is appended so consumers can subscribe to a single job.
	SubjectJobProgress = "deploy.jobs.progress"

	// SubjectAgentSeen carries agent heartbeat sightings.
	SubjectAgentSeen = "agent.heartbeats.seen"
)

// JobProgressSubject returns the subject for one job's host progress.
// Example: deploy.jobs.progress.0190f6a2
func JobProgressSubject(jobID string) string {
	return SubjectJobProgress + "." + jobID
}
