package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
)

// ErrNoStages is returned by Execute when nothing was added.
var ErrNoStages = errors.New("no stages to execute")

// Engine runs a set of stages concurrently, each one as soon as its
// dependencies have completed successfully. An Engine runs once.
type Engine struct {
	config any
	logger *slog.Logger

	injected map[reflect.Type]any

	stages      map[StageID]Stage
	order       []StageID
	deps        map[StageID][]StageID
	done        map[StageID]chan struct{}
	results     map[StageID]*Result
	executeOnce sync.Once

	mu sync.RWMutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger.With("component", "workflow")
	}
}

// WithConfig sets the value `config:"a.b"` tags are resolved against.
func WithConfig(config any) Option {
	return func(e *Engine) {
		e.config = config
	}
}

// NewEngine creates an empty Engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		logger:   slog.Default().With("component", "workflow"),
		injected: make(map[reflect.Type]any),
		stages:   make(map[StageID]Stage),
		deps:     make(map[StageID][]StageID),
		done:     make(map[StageID]chan struct{}),
		results:  make(map[StageID]*Result),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Inject registers values for injection into stage fields. A field receives
// a value when its type equals the value's type, or when the field is an
// interface the value implements.
func (e *Engine) Inject(values ...any) error {
	for _, v := range values {
		if v == nil {
			e.logger.Warn("attempted to inject nil value")
			continue
		}
		t := reflect.TypeOf(v)
		if _, exists := e.injected[t]; exists {
			return fmt.Errorf("type %s already injected", t)
		}
		e.injected[t] = v
	}
	return nil
}

// AddStage registers stages. Only one stage of each type may be added.
func (e *Engine) AddStage(stages ...Stage) error {
	for _, s := range stages {
		if reflect.TypeOf(s).Kind() != reflect.Ptr || reflect.TypeOf(s).Elem().Kind() != reflect.Struct {
			return fmt.Errorf("stage %T must be a pointer to a struct", s)
		}
		id := GetStageID(s)
		if _, exists := e.stages[id]; exists {
			return fmt.Errorf("stage of type %s already exists", id)
		}
		e.stages[id] = s
		e.order = append(e.order, id)
		e.results[id] = &Result{State: NotStarted}
	}
	return nil
}

// Execute wires and runs every stage, blocking until all have finished.
// It returns the first stage failure, if any. Per-stage outcomes are
// available through Result and Results.
func (e *Engine) Execute(ctx context.Context) error {
	err := errors.New("engine already executed")
	e.executeOnce.Do(func() {
		err = e.execute(ctx)
	})
	return err
}

func (e *Engine) execute(ctx context.Context) error {
	if len(e.stages) == 0 {
		return ErrNoStages
	}

	if err := e.wire(); err != nil {
		e.failAll(fmt.Errorf("validation failed: %w", err))
		return fmt.Errorf("wiring stages: %w", err)
	}

	for _, id := range e.order {
		if err := e.stages[id].Init(); err != nil {
			e.failAll(fmt.Errorf("initialization blocked by %s: %w", id.ShortString(), err))
			return fmt.Errorf("stage %s init failed: %w", id.ShortString(), err)
		}
		e.done[id] = make(chan struct{})
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(e.stages))
	for _, id := range e.order {
		wg.Add(1)
		go e.run(ctx, id, &wg, errs)
	}
	wg.Wait()
	close(errs)

	var first error
	for err := range errs {
		if first == nil {
			first = err
		}
	}
	return first
}

// run waits for the dependencies of id, then executes it. The completion
// channel is closed on every path so dependents never block.
func (e *Engine) run(ctx context.Context, id StageID, wg *sync.WaitGroup, errs chan<- error) {
	defer wg.Done()
	defer close(e.done[id])

	logger := e.logger.With("stage", id.ShortString())
	e.setResult(id, &Result{State: Pending})

	for _, dep := range e.deps[id] {
		select {
		case <-ctx.Done():
			logger.Warn("stage cancelled", "error", ctx.Err())
			e.setResult(id, &Result{State: Skipped, Error: fmt.Errorf("cancelled: %w", ctx.Err())})
			errs <- fmt.Errorf("stage %s cancelled: %w", id.ShortString(), ctx.Err())
			return
		case <-e.done[dep]:
		}
		if r := e.Result(dep); r == nil || !r.IsSuccess() {
			logger.Debug("skipping stage, dependency did not succeed", "dependency", dep.ShortString())
			e.setResult(id, &Result{State: Skipped, Error: fmt.Errorf("dependency %s did not succeed", dep.ShortString())})
			return
		}
	}

	e.setResult(id, &Result{State: Running})
	logger.Debug("executing stage")

	err := e.stages[id].Execute(ctx)
	e.setResult(id, &Result{State: Completed, Error: err})
	if err != nil {
		logger.Debug("stage failed", "error", err)
		errs <- fmt.Errorf("stage %s failed: %w", id.ShortString(), err)
		return
	}
	logger.Debug("stage completed")
}

// wire injects config, values and stage dependencies, then validates the graph.
func (e *Engine) wire() error {
	byType := make(map[reflect.Type]StageID, len(e.stages))
	for id, s := range e.stages {
		byType[reflect.TypeOf(s).Elem()] = id
	}

	for _, id := range e.order {
		v := reflect.ValueOf(e.stages[id]).Elem()
		t := v.Type()
		var deps []StageID

		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			fv := v.Field(i)

			if path := field.Tag.Get("config"); path != "" {
				if !fv.CanSet() {
					return fmt.Errorf("stage %s: config field %s is unexported", id.ShortString(), field.Name)
				}
				if err := e.injectConfig(fv, path); err != nil {
					return fmt.Errorf("stage %s field %s: %w", id.ShortString(), field.Name, err)
				}
				continue
			}

			if field.Type.Kind() == reflect.Ptr {
				if depID, ok := byType[field.Type.Elem()]; ok {
					deps = append(deps, depID)
					if field.Name != "_" && fv.CanSet() {
						fv.Set(reflect.ValueOf(e.stages[depID]))
					}
					continue
				}
			} else if _, ok := byType[field.Type]; ok {
				return fmt.Errorf("stage %s dependency field %s must be a pointer", id.ShortString(), field.Name)
			}

			if !fv.CanSet() {
				continue
			}
			value, ok, err := e.lookupInjected(field.Type)
			if err != nil {
				return fmt.Errorf("stage %s field %s: %w", id.ShortString(), field.Name, err)
			}
			if ok {
				fv.Set(value)
			}
		}
		e.deps[id] = deps
	}

	if err := e.checkCycles(); err != nil {
		return err
	}
	return e.checkNilDependencies()
}

// lookupInjected finds the injected value for a field type: an exact match
// first, then a unique implementation of an interface type.
func (e *Engine) lookupInjected(t reflect.Type) (reflect.Value, bool, error) {
	if v, ok := e.injected[t]; ok {
		return reflect.ValueOf(v), true, nil
	}
	if t.Kind() != reflect.Interface {
		return reflect.Value{}, false, nil
	}
	var match reflect.Value
	for vt, v := range e.injected {
		if !vt.Implements(t) {
			continue
		}
		if match.IsValid() {
			return reflect.Value{}, false, fmt.Errorf("ambiguous injection for %s", t)
		}
		match = reflect.ValueOf(v)
	}
	return match, match.IsValid(), nil
}

// checkCycles runs Kahn's algorithm over the dependency graph.
func (e *Engine) checkCycles() error {
	inDegree := make(map[StageID]int, len(e.stages))
	dependents := make(map[StageID][]StageID)
	for _, id := range e.order {
		inDegree[id] = len(e.deps[id])
		for _, dep := range e.deps[id] {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var queue []StageID
	for _, id := range e.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	processed := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		processed++
		for _, d := range dependents[current] {
			inDegree[d]--
			if inDegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}
	if processed != len(e.stages) {
		return fmt.Errorf("circular dependency detected: only %d of %d stages could be ordered", processed, len(e.stages))
	}
	return nil
}

// checkNilDependencies rejects named pointer fields left nil after wiring.
func (e *Engine) checkNilDependencies() error {
	for _, id := range e.order {
		v := reflect.ValueOf(e.stages[id]).Elem()
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			fv := v.Field(i)
			if field.Name == "_" || !fv.CanSet() || field.Tag.Get("config") != "" {
				continue
			}
			if (fv.Kind() == reflect.Ptr || fv.Kind() == reflect.Interface) && fv.IsNil() {
				return fmt.Errorf("stage %s has nil dependency %s (%s)", id.ShortString(), field.Name, field.Type)
			}
		}
	}
	return nil
}

// injectConfig resolves a dot path against the engine config. Each segment
// matches a field name, its capitalised form, or a yaml tag.
func (e *Engine) injectConfig(fv reflect.Value, path string) error {
	if e.config == nil {
		return nil
	}
	v := reflect.ValueOf(e.config)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	for _, part := range strings.Split(path, ".") {
		if v.Kind() != reflect.Struct {
			return fmt.Errorf("config path %s: expected struct, got %s", path, v.Kind())
		}
		next := v.FieldByName(part)
		if !next.IsValid() && part != "" {
			next = v.FieldByName(strings.ToUpper(part[:1]) + part[1:])
		}
		if !next.IsValid() {
			for i := 0; i < v.NumField(); i++ {
				if strings.Split(v.Type().Field(i).Tag.Get("yaml"), ",")[0] == part {
					next = v.Field(i)
					break
				}
			}
		}
		if !next.IsValid() {
			return fmt.Errorf("config path %s: field %q not found", path, part)
		}
		v = next
	}

	if !v.Type().AssignableTo(fv.Type()) {
		return fmt.Errorf("config path %s: type %s not assignable to %s", path, v.Type(), fv.Type())
	}
	fv.Set(v)
	return nil
}

func (e *Engine) failAll(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.stages {
		e.results[id] = &Result{State: NotStarted, Error: err}
	}
}

func (e *Engine) setResult(id StageID, r *Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[id] = r
}

// Result returns the current result for id.
func (e *Engine) Result(id StageID) *Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.results[id]
}

// ResultOf returns the current result for stage.
func (e *Engine) ResultOf(stage Stage) *Result {
	return e.Result(GetStageID(stage))
}

// Results returns a copy of every stage result.
func (e *Engine) Results() map[StageID]*Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[StageID]*Result, len(e.results))
	for id, r := range e.results {
		out[id] = r
	}
	return out
}
