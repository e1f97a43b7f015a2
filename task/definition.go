package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/longtask/checkpoint"
)

// RunContext is everything a runner gets for one invocation.
type RunContext struct {
	// Task is a snapshot of the record as of the start of the invocation.
	Task     *Task
	Input    json.RawMessage
	Response Response
	Guard    Guard
	Store    checkpoint.Store
	Logger   *zap.Logger
	// Progress counts processed items under an action name.
	Progress func(action string, count int)
}

// Report forwards to Progress when set.
func (rc *RunContext) Report(action string, count int) {
	if rc.Progress != nil && count > 0 {
		rc.Progress(action, count)
	}
}

// Runner executes one invocation of a task and must return exactly one Result.
type Runner interface {
	Run(ctx context.Context, rc *RunContext) Result
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, rc *RunContext) Result

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, rc *RunContext) Result {
	return f(ctx, rc)
}

// Hook is called after a terminal record has been persisted.
type Hook func(ctx context.Context, t *Task, store checkpoint.Store) error

// Hooks are optional lifecycle callbacks.
type Hooks struct {
	OnDone          Hook
	OnError         Hook
	OnAbort         Hook
	OnMaxIterations Hook
}

// Definition describes one kind of task.
type Definition struct {
	ID          string
	Title       string
	Description string
	// MaxIterations caps the number of invocations; 0 uses the orchestrator default.
	MaxIterations int
	Validator     InputValidator
	Runner        Runner
	Hooks         Hooks
}

// Validate checks the definition is usable.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("definition id is required")
	}
	if d.Runner == nil {
		return fmt.Errorf("definition %s: runner is required", d.ID)
	}
	if d.MaxIterations < 0 {
		return fmt.Errorf("definition %s: max iterations must not be negative", d.ID)
	}
	return nil
}

// Registry holds task definitions by id.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register adds a definition. Ids must be unique.
func (r *Registry) Register(d *Definition) error {
	if err := d.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[d.ID]; exists {
		return fmt.Errorf("definition %s already registered", d.ID)
	}
	r.defs[d.ID] = d
	return nil
}

// MustRegister panics on registration failure.
func (r *Registry) MustRegister(d *Definition) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Get returns the definition for id.
func (r *Registry) Get(id string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[id]
	return d, ok
}

// List returns all definitions sorted by id.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
