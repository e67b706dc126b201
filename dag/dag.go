// Package dag implements the generic directed-acyclic-graph scheduler: given
// a set of named nodes and their dependencies, it validates the graph once
// up front, then dispatches ready nodes concurrently in topological order
// until every reachable node has completed or the frontier runs dry.
//
// The package knows nothing about workflows, tasks, or placeholders. It
// operates purely on Node values and callbacks, so the workflow package can
// depend on it without dag needing to depend back.
package dag

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Node is one schedulable unit: a name, the names it depends on, and
// whether its failure is allowed to not cancel its dependents (defaults to
// false: a failure cancels downstream nodes).
type Node struct {
	Name         string
	DependsOn    []string
	AllowFailure bool
}

// Outcome is the result a Hooks.Run callback reports back to the scheduler
// for one node.
type Outcome int

const (
	// OutcomeSuccess marks the node's name as completed, unblocking its
	// dependents.
	OutcomeSuccess Outcome = iota
	// OutcomeFailure marks the node as failed; its transitive dependents
	// are cancelled and never dispatched.
	OutcomeFailure
)

// Hooks lets the caller plug in behavior at each point of the schedule
// without the dag package needing to know what a "task" actually is.
type Hooks struct {
	// Run executes node and reports its outcome. Run must not block past
	// ctx's cancellation.
	Run func(ctx context.Context, node Node) Outcome
	// OnCancelled is called, once per node, for every node the scheduler
	// decides not to run because an ancestor failed.
	OnCancelled func(node Node)
}

// Options bounds the scheduler's resource usage.
type Options struct {
	// MaxInFlight caps concurrently dispatched nodes. Zero means unbounded
	// (every ready-frontier node is dispatched at once).
	MaxInFlight int
}

// ErrCycle is returned by Validate and Execute when the dependency graph
// contains a cycle.
type ErrCycle struct {
	Cycle []string
}

func (e *ErrCycle) Error() string {
	return fmt.Sprintf("dag: cycle detected: %v", e.Cycle)
}

// Validate checks that every DependsOn name resolves to a node or a
// pre-satisfied name, and that the dependency graph is acyclic. satisfied
// lists names considered already complete before scheduling starts (for a
// workflow, this is just the input node's name).
func Validate(nodes []Node, satisfied []string) error {
	_, err := buildGraph(nodes, satisfied)
	return err
}

type graph struct {
	byName map[string]*node
	order  []*node
}

type node struct {
	spec     Node
	inDegree int
	children []*node
}

func buildGraph(nodes []Node, satisfied []string) (*graph, error) {
	known := make(map[string]bool, len(satisfied))
	for _, s := range satisfied {
		known[s] = true
	}

	byName := make(map[string]*node, len(nodes))
	for _, n := range nodes {
		if _, dup := byName[n.Name]; dup {
			return nil, fmt.Errorf("dag: duplicate node name %q", n.Name)
		}
		byName[n.Name] = &node{spec: n}
	}

	for _, n := range byName {
		for _, dep := range n.spec.DependsOn {
			if known[dep] {
				continue
			}
			parent, ok := byName[dep]
			if !ok {
				return nil, fmt.Errorf("dag: node %q depends on unknown node %q", n.spec.Name, dep)
			}
			parent.children = append(parent.children, n)
			n.inDegree++
		}
	}

	if cycle := findCycle(byName); cycle != nil {
		return nil, &ErrCycle{Cycle: cycle}
	}

	order := make([]*node, 0, len(byName))
	for _, n := range byName {
		order = append(order, n)
	}

	return &graph{byName: byName, order: order}, nil
}

// findCycle performs a DFS coloring walk and returns the first cycle found,
// or nil if the graph is acyclic.
func findCycle(byName map[string]*node) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(byName))
	var path []string
	var cyc []string

	var visit func(n *node) bool
	visit = func(n *node) bool {
		color[n.spec.Name] = gray
		path = append(path, n.spec.Name)
		for _, c := range n.children {
			switch color[c.spec.Name] {
			case white:
				if visit(c) {
					return true
				}
			case gray:
				// Found the back-edge; extract the cycle from path.
				start := 0
				for i, name := range path {
					if name == c.spec.Name {
						start = i
						break
					}
				}
				cyc = append([]string{}, path[start:]...)
				cyc = append(cyc, c.spec.Name)
				return true
			}
		}
		path = path[:len(path)-1]
		color[n.spec.Name] = black
		return false
	}

	for _, n := range byName {
		if color[n.spec.Name] == white {
			if visit(n) {
				return cyc
			}
		}
	}
	return nil
}

// Execute validates then runs nodes to completion, dispatching the ready
// frontier concurrently. It returns an error for validation failures, and
// ctx.Err() if ctx is cancelled before every node is accounted for; in that
// case nodes that have not finished are not reported through
// Hooks.OnCancelled. Individual node failures are reported through Hooks and
// never abort the whole run (their dependents are simply cancelled).
func Execute(ctx context.Context, nodes []Node, satisfied []string, opts Options, hooks Hooks) error {
	g, err := buildGraph(nodes, satisfied)
	if err != nil {
		return err
	}
	if len(g.order) == 0 {
		return nil
	}

	meter := otel.Meter("flowengine-dag")
	parallelism, _ := meter.Int64Gauge("flowengine_dag_parallelism")

	workers := opts.MaxInFlight
	if workers <= 0 || workers > len(g.order) {
		workers = len(g.order)
	}

	ready := make(chan *node, len(g.order))
	for _, n := range g.order {
		if n.inDegree == 0 {
			ready <- n
		}
	}

	type dispatched struct {
		n       *node
		outcome Outcome
	}
	results := make(chan dispatched, len(g.order))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case n, ok := <-ready:
					if !ok {
						return
					}
					parallelism.Record(ctx, 1, metric.WithAttributes(attribute.String("node", n.spec.Name)))
					outcome := hooks.Run(ctx, n.spec)
					parallelism.Record(ctx, -1, metric.WithAttributes(attribute.String("node", n.spec.Name)))
					results <- dispatched{n: n, outcome: outcome}
				}
			}
		}()
	}

	remaining := len(g.order)
	cancelled := make(map[string]bool)
	coordErr := make(chan error, 1)
	go func() {
		defer close(coordErr)
		for remaining > 0 {
			select {
			case <-ctx.Done():
				coordErr <- ctx.Err()
				return
			case d := <-results:
				remaining--
				if d.outcome == OutcomeFailure && !d.n.spec.AllowFailure {
					remaining -= cancelDescendants(d.n, cancelled, hooks)
					continue
				}
				for _, child := range d.n.children {
					child.inDegree--
					if child.inDegree == 0 {
						ready <- child
					}
				}
			}
		}
		coordErr <- nil
	}()

	err = <-coordErr
	close(ready)
	wg.Wait()

	return err
}

// cancelDescendants marks every transitive child of n as cancelled via
// hooks.OnCancelled, skipping any name already present in cancelled (shared
// across every call for one Execute run, so a descendant reachable from two
// independently failing ancestors is only cancelled, counted and reported
// once). Returns the number of newly cancelled nodes.
func cancelDescendants(n *node, cancelled map[string]bool, hooks Hooks) int {
	newlyCancelled := 0
	var walk func(*node)
	walk = func(cur *node) {
		for _, c := range cur.children {
			if cancelled[c.spec.Name] {
				continue
			}
			cancelled[c.spec.Name] = true
			newlyCancelled++
			if hooks.OnCancelled != nil {
				hooks.OnCancelled(c.spec)
			}
			walk(c)
		}
	}
	walk(n)
	return newlyCancelled
}
