// Package deploy implements the deployment job queue, the worker that
// fans jobs out across the fleet, and the scheduled-job loop.
package deploy

import (
	"context"
	"sync"

	"github.com/kestrelsec/sysmonfleet/internal/metrics"
)

const defaultQueueBuffer = 256

// Queue is an unbounded in-process FIFO of job ids. Enqueue never blocks:
// when the channel buffer is full, ids spill into an overflow slice that
// drains back into the channel as the worker consumes. Duplicate enqueues
// are harmless; the worker re-checks job status on dequeue.
type Queue struct {
	mu       sync.Mutex
	ch       chan string
	overflow []string
}

// NewQueue creates a queue with the default channel buffer.
func NewQueue() *Queue {
	return &Queue{ch: make(chan string, defaultQueueBuffer)}
}

// Enqueue adds a job id. Fire and forget.
func (q *Queue) Enqueue(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Overflow entries must drain first or FIFO order breaks.
	if len(q.overflow) == 0 {
		select {
		case q.ch <- jobID:
			metrics.QueueDepth.Set(float64(q.len()))
			return
		default:
		}
	}
	q.overflow = append(q.overflow, jobID)
	metrics.QueueDepth.Set(float64(q.len()))
}

// Dequeue blocks for the next job id or until the context ends.
func (q *Queue) Dequeue(ctx context.Context) (string, error) {
	select {
	case jobID := <-q.ch:
		q.refill()
		return jobID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// refill moves overflow entries into freed channel slots.
func (q *Queue) refill() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.overflow) > 0 {
		select {
		case q.ch <- q.overflow[0]:
			q.overflow = q.overflow[1:]
		default:
			metrics.QueueDepth.Set(float64(q.len()))
			return
		}
	}
	metrics.QueueDepth.Set(float64(q.len()))
}

// Len returns the number of queued job ids.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.len()
}

func (q *Queue) len() int {
	return len(q.ch) + len(q.overflow)
}
