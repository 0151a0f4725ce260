// Package scheduler triggers rebalance cycles on cron schedules and runs
// them on a shared worker pool.
package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/bridgebot/internal/domain"
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// Scheduler fires jobs from cron and executes them on a bounded pool, so
// different strategies rebalance concurrently
type Scheduler struct {
	cron *cron.Cron
	pool *pond.WorkerPool
	log  zerolog.Logger
}

// New creates a scheduler running at most workers jobs at once
func New(workers int, log zerolog.Logger) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	s := &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
	s.pool = pond.New(workers, workers*4,
		pond.MinWorkers(1),
		pond.IdleTimeout(time.Minute),
		pond.Strategy(pond.Balanced()),
		pond.PanicHandler(func(p interface{}) {
			s.log.Error().Interface("panic", p).Msg("Job panicked")
		}),
	)
	return s
}

// Start starts the cron loop
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("Scheduler started")
}

// Stop stops firing new jobs and waits for running ones to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.pool.StopAndWait()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job with a cron schedule. Specs take an optional
// seconds field:
//   - "0 */5 * * * *"   every 5 minutes
//   - "0 0 * * *"       midnight
//   - "@every 1h"       hourly
func (s *Scheduler) AddJob(schedule string, job Job) error {
	if _, err := s.cron.AddFunc(schedule, func() { s.Submit(job) }); err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", schedule, job.Name(), err)
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")
	return nil
}

// Submit queues a job on the pool. It returns false when the queue is
// full and the run was dropped.
func (s *Scheduler) Submit(job Job) bool {
	if s.pool.TrySubmit(func() { s.execute(job) }) {
		return true
	}
	s.log.Warn().
		Str("job", job.Name()).
		Int("waiting", int(s.pool.WaitingTasks())).
		Msg("Worker pool full, run dropped")
	return false
}

// RunNow executes a job immediately on the calling goroutine
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return job.Run()
}

func (s *Scheduler) execute(job Job) {
	s.log.Debug().Str("job", job.Name()).Msg("Running job")

	err := job.Run()
	switch {
	case err == nil:
		s.log.Debug().Str("job", job.Name()).Msg("Job completed")
	case errors.Is(err, domain.ErrCycleInFlight):
		s.log.Debug().Str("job", job.Name()).Msg("Previous run still in flight, skipped")
	default:
		s.log.Error().
			Err(err).
			Str("job", job.Name()).
			Msg("Job failed")
	}
}
