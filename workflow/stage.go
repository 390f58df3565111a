package workflow

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

// Stage is a single unit of work run by an Engine.
//
// Pointer fields referring to other registered stages are dependencies: the
// engine injects them and runs the stage only after every one of them has
// completed successfully. Use an unnamed field (`_ *OtherStage`) to order
// without injecting.
type Stage interface {
	// Init is called after injection and before Execute.
	Init() error

	// Execute performs the work. A non-nil error fails the stage and skips
	// every stage that depends on it.
	Execute(ctx context.Context) error
}

// StageID identifies a stage by the import path and name of its type.
type StageID struct {
	Module string
	Type   string
}

func (id StageID) String() string {
	return fmt.Sprintf("%s.%s", id.Module, id.Type)
}

// ShortString returns "pkg.Type" for display.
func (id StageID) ShortString() string {
	if i := strings.LastIndex(id.Module, "/"); i >= 0 && i < len(id.Module)-1 {
		return id.Module[i+1:] + "." + id.Type
	}
	if id.Module == "" {
		return id.Type
	}
	return id.Module + "." + id.Type
}

// GetStageID returns the StageID for stage.
func GetStageID(stage Stage) StageID {
	t := reflect.TypeOf(stage).Elem()
	return StageID{
		Module: t.PkgPath(),
		Type:   t.Name(),
	}
}

// State represents the execution state of a stage.
type State int

const (
	// NotStarted means the stage is registered but the engine has not run it.
	NotStarted State = iota

	// Pending means the stage is waiting on its dependencies.
	Pending

	// Running means Execute is in progress.
	Running

	// Skipped means a dependency failed or the context was cancelled.
	Skipped

	// Completed means Execute returned; check Result.Error.
	Completed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Skipped:
		return "skipped"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// Result is the outcome of a stage.
type Result struct {
	State State

	// Error is the error returned by Execute, or the reason the stage was
	// skipped or never started.
	Error error
}

// IsSuccess returns true if the stage ran and returned nil.
func (r *Result) IsSuccess() bool {
	return r.State == Completed && r.Error == nil
}
