/**
 * @description
 * Cron scheduler setup for scheduled jobs.
 */
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Schedules holds the cron expressions for each job. An empty expression disables the job.
type Schedules struct {
	Renewals     string
	TipReconcile string
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	jobs      *Jobs
	logger    *slog.Logger
	schedules Schedules
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, schedules Schedules) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:      c,
		jobs:      jobs,
		logger:    logger,
		schedules: schedules,
	}
}

// Register adds the jobs to the cron table. It fails on the first invalid expression.
func (s *Scheduler) Register() error {
	entries := []struct {
		name     string
		schedule string
		run      func()
	}{
		{name: jobRenewals, schedule: s.schedules.Renewals, run: s.jobs.EnqueueDueRenewals},
		{name: jobTipReconcile, schedule: s.schedules.TipReconcile, run: s.jobs.ReconcilePendingTips},
	}

	for _, entry := range entries {
		if entry.schedule == "" {
			s.logger.Warn("job disabled", "job", entry.name)
			continue
		}
		if _, err := s.cron.AddFunc(entry.schedule, entry.run); err != nil {
			return fmt.Errorf("schedule %s job: %w", entry.name, err)
		}
		s.logger.Info("scheduled job", "job", entry.name, "schedule", entry.schedule)
	}
	return nil
}

// Start runs the cron scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
