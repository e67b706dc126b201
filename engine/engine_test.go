package engine

import (
	"context"
	"testing"
	"time"

	"github.com/swarmguard/flowengine/workflow"
)

func simpleDescription() workflow.Description {
	return workflow.Description{
		Metadata: workflow.Metadata{Name: "greet"},
		Input:    workflow.InputNode{Name: "input", Data: map[string]any{"n": 2}},
		Tasks: []workflow.TaskSpec{
			{
				Name:       "a",
				Func:       "double",
				DependsOn:  []string{"input"},
				CustomVars: map[string]any{"n": "${input.n}"},
				Timeout:    time.Second,
			},
		},
		Output: workflow.OutputNode{Name: "out", Data: map[string]any{"r": "${a.output}"}},
	}
}

func TestLoadAndRun(t *testing.T) {
	e := New()
	e.RegisterFunction("double", func(ctx context.Context, params map[string]any) (any, error) {
		return params["n"].(int) * 2, nil
	})

	name, err := e.Load(simpleDescription(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "greet" {
		t.Fatalf("expected name 'greet', got %q", name)
	}

	result, err := e.Run(context.Background(), "greet", nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := result.Output.(map[string]any)
	if out["r"] != 4 {
		t.Fatalf("expected r=4, got %#v", out["r"])
	}
}

func TestLoadRejectsInvalidWorkflow(t *testing.T) {
	e := New()
	desc := workflow.Description{
		Metadata: workflow.Metadata{Name: "bad"},
		Input:    workflow.InputNode{Name: "input"},
		Tasks: []workflow.TaskSpec{
			{Name: "a", DependsOn: []string{"b"}},
			{Name: "b", DependsOn: []string{"a"}},
		},
	}
	if _, err := e.Load(desc, ""); err == nil {
		t.Fatalf("expected validation error to propagate from Load")
	}
}

func TestRunUnknownWorkflow(t *testing.T) {
	e := New()
	if _, err := e.Run(context.Background(), "ghost", nil, ""); err == nil {
		t.Fatalf("expected error for unknown workflow")
	}
}

func TestListWorkflowsAndFunctions(t *testing.T) {
	e := New()
	e.RegisterFunction("double", func(ctx context.Context, params map[string]any) (any, error) { return nil, nil })
	if _, err := e.Load(simpleDescription(), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := e.ListWorkflows(); len(got) != 1 || got[0] != "greet" {
		t.Fatalf("expected [greet], got %v", got)
	}
	if got := e.ListFunctions(); len(got) != 1 || got[0] != "double" {
		t.Fatalf("expected [double], got %v", got)
	}
}

func TestCancelRunningExecution(t *testing.T) {
	e := New()
	e.RegisterFunction("slow", func(ctx context.Context, params map[string]any) (any, error) {
		select {
		case <-time.After(2 * time.Second):
			return "done", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	desc := workflow.Description{
		Metadata: workflow.Metadata{Name: "slowwf"},
		Input:    workflow.InputNode{Name: "input"},
		Tasks: []workflow.TaskSpec{
			{Name: "slow", Func: "slow", DependsOn: []string{"input"}, Timeout: 5 * time.Second},
		},
		Output: workflow.OutputNode{Name: "out"},
	}
	if _, err := e.Load(desc, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		e.Run(context.Background(), "slowwf", nil, "exec-1")
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if !e.Cancel("exec-1") {
		t.Fatalf("expected Cancel to find the in-flight execution")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected run to finish shortly after cancellation")
	}
}

func TestCancelUnknownExecution(t *testing.T) {
	e := New()
	if e.Cancel("ghost") {
		t.Fatalf("expected Cancel to report false for unknown execution id")
	}
}
