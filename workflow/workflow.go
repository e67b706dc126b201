// Package workflow is the orchestrating façade: it holds an immutable
// workflow description, binds the input node into a fresh results map for
// each run, and drives the dag scheduler through the placeholder resolver
// and task executor to produce a final result envelope.
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/swarmguard/flowengine/dag"
	"github.com/swarmguard/flowengine/exec"
	"github.com/swarmguard/flowengine/registry"
	"github.com/swarmguard/flowengine/resolve"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Metadata is the workflow's opaque descriptive header.
type Metadata struct {
	Name        string
	Version     string
	Description string
}

// InputNode supplies the literal starting values a run is seeded with.
type InputNode struct {
	Name string
	Data map[string]any
}

// OutputNode is a template, typically full of placeholders, resolved
// against the final results map to produce a run's output value.
type OutputNode struct {
	Name string
	Data map[string]any
}

// TaskSpec is one node of the workflow DAG.
type TaskSpec struct {
	Name       string
	Func       string
	CustomVars map[string]any
	DependsOn  []string
	Timeout    time.Duration
	Retry      int
	Cacheable  bool
}

// Description is the immutable, validated shape of one workflow: metadata,
// input, task specs and output. It is produced externally (by the config
// loader, or programmatically) and never mutated by a run.
type Description struct {
	Metadata Metadata
	Input    InputNode
	Tasks    []TaskSpec
	Output   OutputNode
}

// TaskRecord is the observable state of one task at the end of a run (or at
// any point during one, if read concurrently; callers should prefer
// reading the record only after a run completes).
type TaskRecord struct {
	Name     string
	Status   exec.Status
	Attempts int
	Start    time.Time
	End      time.Time
	Error    string
	Output   any
}

// ToMap renders the record as the addressable mapping placeholders resolve
// against: {"output": ..., "status": ..., "error": ..., "start": ..., "end": ...}.
func (r TaskRecord) ToMap() map[string]any {
	m := map[string]any{
		"status": string(r.Status),
		"start":  r.Start,
		"end":    r.End,
	}
	if r.Output != nil {
		m["output"] = r.Output
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	return m
}

// ResultEnvelope is what Run returns: the resolved output tree plus a
// per-task state summary.
type ResultEnvelope struct {
	Output any
	Tasks  map[string]TaskRecord
}

// Instance binds a Description to the shared function registry. It may be
// run multiple times; each run starts from a fresh results map, so
// concurrent runs of the same Instance never share mutable state.
type Instance struct {
	desc   Description
	tracer trace.Tracer
}

// New returns a runnable Instance for desc.
func New(desc Description) *Instance {
	return &Instance{desc: desc, tracer: otel.Tracer("flowengine-workflow")}
}

// Validate performs the scheduler's up-front checks (unique names, known
// dependencies, acyclic graph) without running anything.
func (i *Instance) Validate() error {
	return dag.Validate(i.toNodes(), []string{i.desc.Input.Name})
}

func (i *Instance) toNodes() []dag.Node {
	nodes := make([]dag.Node, 0, len(i.desc.Tasks))
	for _, t := range i.desc.Tasks {
		nodes = append(nodes, dag.Node{Name: t.Name, DependsOn: t.DependsOn})
	}
	return nodes
}

// Describe returns a read-only structural view of the workflow for tooling:
// node names, edges, and metadata.
func (i *Instance) Describe() (nodes []string, edges map[string][]string, meta Metadata) {
	nodes = make([]string, 0, len(i.desc.Tasks)+1)
	nodes = append(nodes, i.desc.Input.Name)
	edges = make(map[string][]string, len(i.desc.Tasks))
	for _, t := range i.desc.Tasks {
		nodes = append(nodes, t.Name)
		edges[t.Name] = append([]string{}, t.DependsOn...)
	}
	return nodes, edges, i.desc.Metadata
}

// Run executes the workflow against fns, merging overrides (shallow) into
// the input node's data before seeding the initial results map.
func (i *Instance) Run(ctx context.Context, fns *registry.Registry, overrides map[string]any) (ResultEnvelope, error) {
	ctx, span := i.tracer.Start(ctx, "workflow.run", trace.WithAttributes(attribute.String("workflow", i.desc.Metadata.Name)))
	defer span.End()

	if err := i.Validate(); err != nil {
		return ResultEnvelope{}, err
	}

	taskByName := make(map[string]TaskSpec, len(i.desc.Tasks))
	for _, t := range i.desc.Tasks {
		taskByName[t.Name] = t
	}

	inputData := mergeShallow(i.desc.Input.Data, overrides)

	var mu sync.Mutex
	results := resolve.Results{
		i.desc.Input.Name: map[string]any{"output": inputData, "status": string(exec.Success)},
	}
	records := map[string]TaskRecord{
		i.desc.Input.Name: {Name: i.desc.Input.Name, Status: exec.Success, Output: inputData},
	}

	recordResult := func(name string, rec TaskRecord) {
		mu.Lock()
		defer mu.Unlock()
		records[name] = rec
		if rec.Status == exec.Success {
			results[name] = rec.ToMap()
		}
	}

	hooks := dag.Hooks{
		Run: func(ctx context.Context, node dag.Node) dag.Outcome {
			spec := taskByName[node.Name]

			// Only the input node and the task's transitive dependencies are
			// visible to its placeholders.
			mu.Lock()
			snapshot := resolve.Results{i.desc.Input.Name: results[i.desc.Input.Name]}
			pending := append([]string{}, spec.DependsOn...)
			for len(pending) > 0 {
				dep := pending[len(pending)-1]
				pending = pending[:len(pending)-1]
				if _, seen := snapshot[dep]; seen {
					continue
				}
				if v, ok := results[dep]; ok {
					snapshot[dep] = v
				}
				pending = append(pending, taskByName[dep].DependsOn...)
			}
			mu.Unlock()

			resolvedVars, _ := resolve.Resolve(spec.CustomVars, snapshot).(map[string]any)

			fn, lookupErr := fns.Lookup(spec.Func)
			if lookupErr != nil {
				rec := TaskRecord{
					Name: spec.Name, Status: exec.Failed,
					Start: time.Now(), End: time.Now(),
					Error: lookupErr.Error(),
				}
				recordResult(spec.Name, rec)
				return dag.OutcomeFailure
			}

			policy := exec.Policy{
				Timeout:    spec.Timeout,
				MaxRetries: spec.Retry,
			}
			outcome := exec.Run(ctx, spec.Name, fn, resolvedVars, policy, fns.Breaker(spec.Func))

			rec := TaskRecord{
				Name: spec.Name, Status: outcome.Status, Attempts: outcome.Attempts,
				Start: outcome.Start, End: outcome.End, Output: outcome.Output,
			}
			if outcome.Err != nil {
				rec.Error = outcome.Err.Error()
			}
			recordResult(spec.Name, rec)

			if outcome.Status == exec.Success {
				return dag.OutcomeSuccess
			}
			return dag.OutcomeFailure
		},
		OnCancelled: func(node dag.Node) {
			now := time.Now()
			recordResult(node.Name, TaskRecord{Name: node.Name, Status: exec.Cancelled, Start: now, End: now})
		},
	}

	if err := dag.Execute(ctx, i.toNodes(), []string{i.desc.Input.Name}, dag.Options{}, hooks); err != nil {
		return ResultEnvelope{}, fmt.Errorf("workflow: %w", err)
	}

	mu.Lock()
	finalResults := make(resolve.Results, len(results))
	for k, v := range results {
		finalResults[k] = v
	}
	finalRecords := make(map[string]TaskRecord, len(records))
	for k, v := range records {
		finalRecords[k] = v
	}
	mu.Unlock()

	output := resolve.Resolve(i.desc.Output.Data, finalResults)
	delete(finalRecords, i.desc.Input.Name)

	return ResultEnvelope{Output: output, Tasks: finalRecords}, nil
}

// mergeShallow returns a new map containing base's entries with overrides
// applied on top, one level deep.
func mergeShallow(base, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
