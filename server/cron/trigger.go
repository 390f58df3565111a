// Package cron schedules recurring server actions such as remounting the
// report to start a fresh token cycle.
//
// Example usage:
//
//	trigger, err := cron.NewCronTrigger("0 */6 * * *", remount, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	trigger.Start(ctx)  // Returns immediately, runs in background
//	<-ctx.Done()        // Wait for shutdown signal
package cron

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidCronSpec is returned when the cron expression cannot be parsed.
var ErrInvalidCronSpec = errors.New("invalid cron spec")

// CronTrigger calls a function according to a cron schedule.
type CronTrigger struct {
	spec     string
	schedule cron.Schedule
	fn       func() error
	logger   *slog.Logger
	now      func() time.Time
}

// NewCronTrigger creates a new CronTrigger with the given cron expression.
// Returns ErrInvalidCronSpec if the expression cannot be parsed.
func NewCronTrigger(spec string, fn func() error, logger *slog.Logger) (*CronTrigger, error) {
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, errors.Join(ErrInvalidCronSpec, err)
	}
	return &CronTrigger{
		spec:     spec,
		schedule: schedule,
		fn:       fn,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Start launches a goroutine that fires according to the cron schedule.
// Returns immediately. The goroutine exits when ctx is cancelled.
func (ct *CronTrigger) Start(ctx context.Context) {
	go ct.loop(ctx)
}

// NextRun returns the next scheduled run time from now.
func (ct *CronTrigger) NextRun() time.Time {
	return ct.schedule.Next(ct.now())
}

func (ct *CronTrigger) loop(ctx context.Context) {
	for {
		next := ct.NextRun()
		wait := time.Until(next)
		ct.logger.Debug("waiting for next scheduled run", "schedule", ct.spec, "next_run", next, "wait_duration", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			ct.logger.Info("cron trigger shutting down", "schedule", ct.spec)
			return
		case <-timer.C:
			ct.fire()
		}
	}
}

func (ct *CronTrigger) fire() {
	ct.logger.Info("starting scheduled run", "schedule", ct.spec)
	if err := ct.fn(); err != nil {
		ct.logger.Warn("scheduled run completed with error", "schedule", ct.spec, "error", err)
		return
	}
	ct.logger.Info("scheduled run completed successfully", "schedule", ct.spec)
}
