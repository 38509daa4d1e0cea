package deploy

import (
	"context"
	"log"
	"time"

	"github.com/kestrelsec/sysmonfleet/internal/repository"
)

// Scheduler polls for due scheduled jobs and fires them as live jobs.
type Scheduler struct {
	repo     repository.Repository
	service  *Service
	interval time.Duration
	stop     chan struct{}
	stopped  chan struct{}
}

// NewScheduler creates a schedule poller with the given check interval.
func NewScheduler(repo repository.Repository, service *Service, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		repo:     repo,
		service:  service,
		interval: interval,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start begins the polling loop. The first check runs immediately.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.stopped
}

func (s *Scheduler) run() {
	defer close(s.stopped)

	log.Printf("schedule poller started, interval %s", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.fireDue()

	for {
		select {
		case <-s.stop:
			log.Println("schedule poller stopped")
			return
		case <-ticker.C:
			s.fireDue()
		}
	}
}

func (s *Scheduler) fireDue() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	due, err := s.repo.DueScheduledJobs(ctx, time.Now().UTC())
	if err != nil {
		log.Printf("failed to list due schedules: %v", err)
		return
	}

	for _, sched := range due {
		job, err := s.service.FireScheduledJob(ctx, sched)
		if err != nil {
			log.Printf("failed to fire schedule %s: %v", sched.ID, err)
			continue
		}
		log.Printf("schedule %s fired as job %s", sched.ID, job.ID)
	}
}
