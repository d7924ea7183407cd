/**
 * @description
 * Cron scheduler setup for the grant bookkeeping jobs.
 */
package app

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron              *cron.Cron
	jobs              *Jobs
	reconcileSchedule string
	deadlineSchedule  string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, reconcileSchedule, deadlineSchedule string) *Scheduler {
	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(log.Default()))))

	return &Scheduler{
		cron:              c,
		jobs:              jobs,
		reconcileSchedule: reconcileSchedule,
		deadlineSchedule:  deadlineSchedule,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.reconcileSchedule, s.jobs.ReconcileGrantUtilization); err != nil {
		log.Printf("level=error component=scheduler msg=\"failed to schedule grant reconciliation job\" err=%v", err)
	} else {
		log.Printf("level=info component=scheduler msg=\"scheduled grant reconciliation job\" schedule=%q", s.reconcileSchedule)
	}

	if _, err := s.cron.AddFunc(s.deadlineSchedule, s.jobs.GrantDeadlineReminders); err != nil {
		log.Printf("level=error component=scheduler msg=\"failed to schedule grant deadline job\" err=%v", err)
	} else {
		log.Printf("level=info component=scheduler msg=\"scheduled grant deadline job\" schedule=%q", s.deadlineSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
