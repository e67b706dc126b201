package dag

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestValidateDetectsCycle(t *testing.T) {
	nodes := []Node{
		{Name: "a", DependsOn: []string{"b"}},
		{Name: "b", DependsOn: []string{"a"}},
	}
	err := Validate(nodes, nil)
	if err == nil {
		t.Fatalf("expected cycle error")
	}
	if _, ok := err.(*ErrCycle); !ok {
		t.Fatalf("expected *ErrCycle, got %T", err)
	}
}

func TestValidateDetectsUnknownDependency(t *testing.T) {
	nodes := []Node{{Name: "a", DependsOn: []string{"ghost"}}}
	if err := Validate(nodes, nil); err == nil {
		t.Fatalf("expected unknown-dependency error")
	}
}

func TestValidateAllowsSatisfiedName(t *testing.T) {
	nodes := []Node{{Name: "a", DependsOn: []string{"input"}}}
	if err := Validate(nodes, []string{"input"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExecuteLinearOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	nodes := []Node{
		{Name: "a", DependsOn: []string{"input"}},
		{Name: "b", DependsOn: []string{"a"}},
	}
	hooks := Hooks{
		Run: func(ctx context.Context, n Node) Outcome {
			mu.Lock()
			order = append(order, n.Name)
			mu.Unlock()
			return OutcomeSuccess
		},
	}
	if err := Execute(context.Background(), nodes, []string{"input"}, Options{}, hooks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("expected [a b], got %v", order)
	}
}

func TestExecuteDiamondParallelism(t *testing.T) {
	var mu sync.Mutex
	starts := map[string]time.Time{}
	ends := map[string]time.Time{}
	nodes := []Node{
		{Name: "a", DependsOn: []string{"input"}},
		{Name: "b", DependsOn: []string{"a"}},
		{Name: "c", DependsOn: []string{"a"}},
		{Name: "d", DependsOn: []string{"b", "c"}},
	}
	hooks := Hooks{
		Run: func(ctx context.Context, n Node) Outcome {
			mu.Lock()
			starts[n.Name] = time.Now()
			mu.Unlock()
			if n.Name == "b" || n.Name == "c" {
				time.Sleep(30 * time.Millisecond)
			}
			mu.Lock()
			ends[n.Name] = time.Now()
			mu.Unlock()
			return OutcomeSuccess
		},
	}
	if err := Execute(context.Background(), nodes, []string{"input"}, Options{}, hooks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !starts["b"].Before(ends["c"]) || !starts["c"].Before(ends["b"]) {
		t.Fatalf("expected b and c to run concurrently: starts=%v ends=%v", starts, ends)
	}
	if starts["d"].Before(ends["b"]) || starts["d"].Before(ends["c"]) {
		t.Fatalf("d must start after both b and c finish")
	}
}

func TestExecuteCancelsDownstreamOnFailure(t *testing.T) {
	var mu sync.Mutex
	ran := map[string]bool{}
	cancelled := map[string]bool{}
	nodes := []Node{
		{Name: "a", DependsOn: []string{"input"}},
		{Name: "b", DependsOn: []string{"a"}},
		{Name: "c", DependsOn: []string{"input"}},
	}
	hooks := Hooks{
		Run: func(ctx context.Context, n Node) Outcome {
			mu.Lock()
			ran[n.Name] = true
			mu.Unlock()
			if n.Name == "a" {
				return OutcomeFailure
			}
			return OutcomeSuccess
		},
		OnCancelled: func(n Node) {
			mu.Lock()
			cancelled[n.Name] = true
			mu.Unlock()
		},
	}
	if err := Execute(context.Background(), nodes, []string{"input"}, Options{}, hooks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran["c"] {
		t.Fatalf("expected unrelated branch c to run")
	}
	if ran["b"] {
		t.Fatalf("expected b to never run")
	}
	if !cancelled["b"] {
		t.Fatalf("expected b to be reported cancelled")
	}
}

func TestExecuteRespectsMaxInFlight(t *testing.T) {
	var mu sync.Mutex
	inFlight := 0
	maxObserved := 0
	nodes := []Node{
		{Name: "a", DependsOn: []string{"input"}},
		{Name: "b", DependsOn: []string{"input"}},
		{Name: "c", DependsOn: []string{"input"}},
	}
	hooks := Hooks{
		Run: func(ctx context.Context, n Node) Outcome {
			mu.Lock()
			inFlight++
			if inFlight > maxObserved {
				maxObserved = inFlight
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			inFlight--
			mu.Unlock()
			return OutcomeSuccess
		},
	}
	if err := Execute(context.Background(), nodes, []string{"input"}, Options{MaxInFlight: 1}, hooks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if maxObserved > 1 {
		t.Fatalf("expected at most 1 in flight, observed %d", maxObserved)
	}
}
