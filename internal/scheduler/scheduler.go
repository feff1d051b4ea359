package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Job is a named periodic task. Runs are skipped, not queued, while a
// previous run of the same job is still going.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error

	mu      sync.Mutex
	running bool
}

// Scheduler drives registered jobs on their intervals until the
// context is cancelled. A failing run is logged and retried on the
// next tick.
type Scheduler struct {
	jobs []*Job
}

func New() *Scheduler {
	return &Scheduler{}
}

func (s *Scheduler) Add(name string, interval time.Duration, run func(ctx context.Context) error) {
	s.jobs = append(s.jobs, &Job{Name: name, Interval: interval, Run: run})
}

// Start spawns one loop per registered job and returns immediately.
// The loops exit when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		go s.loop(ctx, job)
	}
}

func (s *Scheduler) loop(ctx context.Context, j *Job) {
	log.Info().Str("job", j.Name).Dur("interval", j.Interval).Msg("scheduler job registered")

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, j)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, j *Job) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		log.Warn().Str("job", j.Name).Msg("previous run still in progress, skipping")
		return
	}
	j.running = true
	j.mu.Unlock()

	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	start := time.Now()
	if err := j.Run(ctx); err != nil {
		log.Error().Err(err).Str("job", j.Name).Dur("took", time.Since(start)).Msg("scheduled job failed")
		return
	}
	log.Info().Str("job", j.Name).Dur("took", time.Since(start)).Msg("scheduled job finished")
}
