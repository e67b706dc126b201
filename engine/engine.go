// Package engine is the process-wide façade: it holds a table of named
// workflow instances plus the shared function registry, and is the single
// entry point external callers (the HTTP service, the scheduler) use to
// load and run workflows by name.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/flowengine/registry"
	"github.com/swarmguard/flowengine/workflow"
)

// Engine owns the workflow table and the shared function registry for the
// lifetime of the process. The zero value is not usable; construct with
// New.
type Engine struct {
	mu        sync.RWMutex
	workflows map[string]*workflow.Instance
	fns       *registry.Registry

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc

	tracer trace.Tracer
}

// New returns an Engine with an empty workflow table and a fresh function
// registry.
func New() *Engine {
	return &Engine{
		workflows: make(map[string]*workflow.Instance),
		fns:       registry.New(),
		cancels:   make(map[string]context.CancelFunc),
		tracer:    otel.Tracer("flowengine-engine"),
	}
}

// Load validates and stores desc under name (or desc.Metadata.Name if name
// is empty), replacing any prior workflow registered under that name.
func (e *Engine) Load(desc workflow.Description, name string) (string, error) {
	if name == "" {
		name = desc.Metadata.Name
	}
	if name == "" {
		return "", fmt.Errorf("engine: workflow has no name")
	}

	inst := workflow.New(desc)
	if err := inst.Validate(); err != nil {
		return "", fmt.Errorf("engine: load %q: %w", name, err)
	}

	e.mu.Lock()
	e.workflows[name] = inst
	e.mu.Unlock()

	return name, nil
}

// Run executes the named workflow, merging overrides into its input data,
// and returns the run's result envelope. If executionID is empty, a fresh
// uuid is minted so every run is always cancellable and traceable by ID;
// a caller-supplied executionID is honored as-is (useful for idempotent
// retries of the same logical run). The run can be interrupted early via
// Cancel(executionID).
func (e *Engine) Run(ctx context.Context, name string, overrides map[string]any, executionID string) (workflow.ResultEnvelope, error) {
	e.mu.RLock()
	inst, ok := e.workflows[name]
	e.mu.RUnlock()
	if !ok {
		return workflow.ResultEnvelope{}, fmt.Errorf("engine: workflow %q not loaded", name)
	}

	if executionID == "" {
		executionID = uuid.NewString()
	}

	ctx, span := e.tracer.Start(ctx, "engine.run",
		trace.WithAttributes(attribute.String("workflow", name), attribute.String("execution_id", executionID)))
	defer span.End()

	runCtx, cancel := context.WithCancel(ctx)
	e.cancelMu.Lock()
	e.cancels[executionID] = cancel
	e.cancelMu.Unlock()
	defer func() {
		e.cancelMu.Lock()
		delete(e.cancels, executionID)
		e.cancelMu.Unlock()
		cancel()
	}()

	return inst.Run(runCtx, e.fns, overrides)
}

// Cancel aborts the in-flight run identified by executionID, if any is
// still running. Returns false if no such execution is known.
func (e *Engine) Cancel(executionID string) bool {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	cancel, ok := e.cancels[executionID]
	if !ok {
		return false
	}
	cancel()
	return true
}

// RegisterFunction forwards to the shared function registry.
func (e *Engine) RegisterFunction(name string, fn registry.Func) {
	e.fns.Register(name, fn)
}

// FunctionRegistry exposes the shared registry directly, for callers (like
// builtins.Register) that install a whole batch of functions at once.
func (e *Engine) FunctionRegistry() *registry.Registry {
	return e.fns
}

// ListWorkflows returns loaded workflow names in sorted order.
func (e *Engine) ListWorkflows() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.workflows))
	for name := range e.workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListFunctions returns registered function names in sorted order.
func (e *Engine) ListFunctions() []string {
	return e.fns.List()
}

// Describe returns the structural view of a loaded workflow for tooling.
func (e *Engine) Describe(name string) (nodes []string, edges map[string][]string, meta workflow.Metadata, err error) {
	e.mu.RLock()
	inst, ok := e.workflows[name]
	e.mu.RUnlock()
	if !ok {
		return nil, nil, workflow.Metadata{}, fmt.Errorf("engine: workflow %q not loaded", name)
	}
	nodes, edges, meta = inst.Describe()
	return nodes, edges, meta, nil
}
