package cron

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Runnable is implemented by anything that can run named actions.
type Runnable interface {
	Trigger(actions []string) error
}

// CronTriggerManager runs one CronTrigger per TriggerSpec.
type CronTriggerManager struct {
	triggers []*CronTrigger
	logger   *slog.Logger
}

// NewCronTriggerManager validates specs and creates a trigger for each.
func NewCronTriggerManager(specs []TriggerSpec, runnable Runnable, logger *slog.Logger, available map[string]bool) (*CronTriggerManager, error) {
	triggers := make([]*CronTrigger, 0, len(specs))
	for _, spec := range specs {
		if err := spec.Validate(available); err != nil {
			return nil, fmt.Errorf("trigger '%s:%s': %w", strings.Join(spec.Actions, ","), spec.CronSpec, err)
		}
		actions := spec.Actions
		trigger, err := NewCronTrigger(spec.CronSpec, func() error {
			return runnable.Trigger(actions)
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating trigger for '%s:%s': %w", strings.Join(spec.Actions, ","), spec.CronSpec, err)
		}
		triggers = append(triggers, trigger)
		logger.Info("trigger registered", "actions", spec.Actions, "schedule", spec.CronSpec, "next_run", trigger.NextRun())
	}

	return &CronTriggerManager{
		triggers: triggers,
		logger:   logger,
	}, nil
}

// Len returns the number of triggers.
func (m *CronTriggerManager) Len() int {
	return len(m.triggers)
}

// Start launches all triggers. Each trigger runs in its own goroutine.
// All goroutines exit when ctx is cancelled.
func (m *CronTriggerManager) Start(ctx context.Context) {
	for _, trigger := range m.triggers {
		trigger.Start(ctx)
	}
}

// NextRun returns the earliest scheduled run time across all triggers, or
// the zero time if there are none.
func (m *CronTriggerManager) NextRun() time.Time {
	var earliest time.Time
	for _, t := range m.triggers {
		if next := t.NextRun(); earliest.IsZero() || next.Before(earliest) {
			earliest = next
		}
	}
	return earliest
}
