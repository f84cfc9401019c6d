// Package scheduler provides cron-based background jobs for ConvoFlow.
//
// Its one standing job sweeps idle sessions into the FINISHED state so
// abandoned conversations do not stay ACTIVE forever.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/convoflow/convoflow/internal/flow"
)

// DefaultSweepExpr runs the stale-session sweep every ten minutes.
const DefaultSweepExpr = "*/10 * * * *"

// DefaultSessionMaxAge is how long a session may sit idle before the sweep
// finishes it.
const DefaultSessionMaxAge = 24 * time.Hour

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field cron parser (min, hour, dom, month, dow) with panic recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// ScheduleSessionSweep registers the stale-session sweep against the engine.
func (s *Scheduler) ScheduleSessionSweep(engine *flow.Engine, expr string, maxAge time.Duration) error {
	if expr == "" {
		expr = DefaultSweepExpr
	}
	if maxAge <= 0 {
		maxAge = DefaultSessionMaxAge
	}
	return s.AddJob(expr, func() {
		if _, err := engine.SweepStaleSessions(maxAge); err != nil {
			slog.Error("Stale session sweep failed", "error", err)
		}
	})
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
