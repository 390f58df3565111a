package cron

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"
)

const (
	triggerSeparator    = ";"
	actionSeparator     = ":"
	actionListSeparator = ","
)

// parser accepts the standard 5 field format: minute, hour, day, month, weekday.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// TriggerSpec is a set of actions and the schedule they run on.
type TriggerSpec struct {
	Actions  []string
	CronSpec string
}

// Validate checks the actions against available and parses the schedule.
func (t TriggerSpec) Validate(available map[string]bool) error {
	if len(t.Actions) == 0 {
		return fmt.Errorf("no actions for schedule '%s'", t.CronSpec)
	}
	seen := make(map[string]bool, len(t.Actions))
	for _, a := range t.Actions {
		if seen[a] {
			return fmt.Errorf("duplicate action '%s'", a)
		}
		seen[a] = true
		if !available[a] {
			return fmt.Errorf("unknown action '%s' (available: %s)", a, formatAvailable(available))
		}
	}
	if _, err := parser.Parse(t.CronSpec); err != nil {
		return fmt.Errorf("invalid cron expression '%s': %w", t.CronSpec, err)
	}
	return nil
}

// ParseTriggerSpecs parses a multi-trigger spec string.
// The format is: action1,action2:cron_expression;action3:cron_expression2
//
// Example:
//
//	"remount:0 */6 * * *;render:*/5 * * * *"
func ParseTriggerSpecs(spec string, available map[string]bool) ([]TriggerSpec, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.New("cron spec cannot be empty")
	}

	var specs []TriggerSpec
	for _, triggerStr := range strings.Split(spec, triggerSeparator) {
		triggerStr = strings.TrimSpace(triggerStr)
		if triggerStr == "" {
			continue
		}
		t, err := parseSingleTrigger(triggerStr)
		if err != nil {
			return nil, err
		}
		if err := t.Validate(available); err != nil {
			return nil, fmt.Errorf("invalid trigger spec '%s': %w", triggerStr, err)
		}
		specs = append(specs, t)
	}

	if len(specs) == 0 {
		return nil, errors.New("no valid triggers found in cron spec")
	}
	return specs, nil
}

func parseSingleTrigger(triggerStr string) (TriggerSpec, error) {
	actionsStr, cronSpec, ok := strings.Cut(triggerStr, actionSeparator)
	if !ok {
		return TriggerSpec{}, fmt.Errorf("invalid trigger spec: expected format 'actions:cron', got '%s'", triggerStr)
	}
	cronSpec = strings.TrimSpace(cronSpec)
	if cronSpec == "" {
		return TriggerSpec{}, fmt.Errorf("invalid trigger spec: missing cron schedule in '%s'", triggerStr)
	}

	var actions []string
	for _, a := range strings.Split(actionsStr, actionListSeparator) {
		if a = strings.TrimSpace(a); a != "" {
			actions = append(actions, a)
		}
	}
	if len(actions) == 0 {
		return TriggerSpec{}, fmt.Errorf("invalid trigger spec: missing actions in '%s'", triggerStr)
	}
	return TriggerSpec{Actions: actions, CronSpec: cronSpec}, nil
}

func formatAvailable(available map[string]bool) string {
	names := make([]string, 0, len(available))
	for a := range available {
		names = append(names, a)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
