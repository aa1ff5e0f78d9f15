/*
scheduler.go - Cron-driven installment tracking

PURPOSE:
  Runs the overdue installment tracking batch (and optionally the penalty
  batch) on a cron schedule. The same batch is reachable on demand through
  POST /api/jobs/track-installments.

DESIGN:
  - robfig/cron drives the schedule ("0 2 * * *" = 02:00 every day)
  - Overlapping runs are skipped, panics are recovered and logged
  - The run date is the calendar day the job fires on
  - Batch failures are per account and never abort the run

USAGE:
  scheduler := NewJobScheduler(service, "0 2 * * *", true, log)
  if err := scheduler.Start(); err != nil { ... }
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: on-demand job endpoints
  - deposit/jobs.go: TrackInstallments, ApplyPenalties
*/
package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/warp/deposit-engine/deposit"
	"github.com/warp/deposit-engine/generic"
)

//go:generate mockgen -destination=mocks/mock_scheduler.go -source=scheduler.go BatchRunner

// BatchRunner is the part of deposit.Service the scheduler drives.
type BatchRunner interface {
	TrackInstallments(ctx context.Context, asOf generic.TimePoint, applyPenalties bool) (deposit.TrackingSummary, error)
}

// JobScheduler runs installment tracking on a cron schedule.
type JobScheduler struct {
	Runner         BatchRunner
	Schedule       string
	ApplyPenalties bool
	Log            logrus.FieldLogger
	Today          func() generic.TimePoint

	cron    *cron.Cron
	mu      sync.Mutex
	lastRun *JobRun
}

// JobRun is the outcome of one scheduled or manual run.
type JobRun struct {
	AsOf    generic.TimePoint
	Summary deposit.TrackingSummary
	Err     error
}

// NewJobScheduler creates a scheduler. It does nothing until Start.
func NewJobScheduler(runner BatchRunner, schedule string, applyPenalties bool, log logrus.FieldLogger) *JobScheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &JobScheduler{
		Runner:         runner,
		Schedule:       schedule,
		ApplyPenalties: applyPenalties,
		Log:            log.WithField("component", "scheduler"),
		Today:          generic.Today,
	}
}

// Start registers the job and starts the cron loop.
func (js *JobScheduler) Start() error {
	js.mu.Lock()
	defer js.mu.Unlock()

	if js.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	logger := cron.PrintfLogger(js.Log)
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(js.Schedule, func() { js.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("invalid track schedule %q: %w", js.Schedule, err)
	}
	c.Start()
	js.cron = c

	js.Log.WithFields(logrus.Fields{
		"schedule":        js.Schedule,
		"apply_penalties": js.ApplyPenalties,
	}).Info("scheduler started")
	return nil
}

// Stop halts the cron loop and waits for a running job to finish.
func (js *JobScheduler) Stop() {
	js.mu.Lock()
	c := js.cron
	js.cron = nil
	js.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	js.Log.Info("scheduler stopped")
}

// RunOnce runs the batch for today.
func (js *JobScheduler) RunOnce(ctx context.Context) JobRun {
	run := JobRun{AsOf: js.Today()}
	run.Summary, run.Err = js.Runner.TrackInstallments(ctx, run.AsOf, js.ApplyPenalties)

	entry := js.Log.WithFields(logrus.Fields{
		"as_of":             run.AsOf.String(),
		"accounts_checked":  run.Summary.AccountsChecked,
		"overdue":           run.Summary.OverdueInstallments,
		"penalties_applied": run.Summary.PenaltiesApplied,
		"failures":          len(run.Summary.Failures),
	})
	switch {
	case run.Err != nil:
		entry.WithError(run.Err).Error("installment tracking failed")
	case !run.Summary.Succeeded():
		entry.Warn("installment tracking finished with failures")
	default:
		entry.Info("installment tracking finished")
	}

	js.mu.Lock()
	js.lastRun = &run
	js.mu.Unlock()
	return run
}

// LastRun returns the most recent run, or nil if none has happened.
func (js *JobScheduler) LastRun() *JobRun {
	js.mu.Lock()
	defer js.mu.Unlock()
	if js.lastRun == nil {
		return nil
	}
	run := *js.lastRun
	return &run
}
