package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/swarmguard/flowengine/engine"
	"github.com/swarmguard/flowengine/workflow"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e := engine.New()
	e.RegisterFunction("double", func(ctx context.Context, params map[string]any) (any, error) {
		n, _ := params["n"].(float64)
		return n * 2, nil
	})

	desc := workflow.Description{
		Metadata: workflow.Metadata{Name: "double-wf"},
		Input:    workflow.InputNode{Name: "input", Data: map[string]any{"n": 5.0}},
		Tasks: []workflow.TaskSpec{
			{Name: "t1", Func: "double", CustomVars: map[string]any{"n": "${input.n}"}},
		},
		Output: workflow.OutputNode{Name: "out", Data: map[string]any{"result": "${t1.output}"}},
	}
	if _, err := e.Load(desc, ""); err != nil {
		t.Fatalf("unexpected error loading workflow: %v", err)
	}
	return e
}

func TestExecuteScheduledCompletes(t *testing.T) {
	e := newTestEngine(t)
	s := New(e, 10, 100)
	defer s.admission.Stop()

	done := make(chan struct{})
	go func() {
		s.executeScheduled(context.Background(), &Config{WorkflowName: "double-wf"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for scheduled execution")
	}
}

func TestAddScheduleRejectsMissingTrigger(t *testing.T) {
	e := newTestEngine(t)
	s := New(e, 10, 100)
	defer s.admission.Stop()

	if err := s.AddSchedule(context.Background(), &Config{WorkflowName: "double-wf"}); err == nil {
		t.Fatalf("expected error for schedule with neither CronExpr nor EventType")
	}
}

func TestTriggerEventRunsMatchingSchedule(t *testing.T) {
	e := newTestEngine(t)
	s := New(e, 10, 100)
	defer s.admission.Stop()

	cfg := &Config{
		WorkflowName: "double-wf",
		EventType:    "my.event",
		EventFilter:  map[string]any{"source": "webhook"},
		Enabled:      true,
	}
	if err := s.AddSchedule(context.Background(), cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.TriggerEvent(context.Background(), "my.event", map[string]any{"source": "webhook"})

	deadline := time.After(time.Second)
	for {
		s.mu.RLock()
		h := s.eventHandlers["my.event"]
		s.mu.RUnlock()
		h.mu.Lock()
		running := h.running
		h.mu.Unlock()
		if running == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for event-triggered run to finish")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestTriggerEventSkipsNonMatchingFilter(t *testing.T) {
	e := newTestEngine(t)
	s := New(e, 10, 100)
	defer s.admission.Stop()

	cfg := &Config{
		WorkflowName: "double-wf",
		EventType:    "my.event",
		EventFilter:  map[string]any{"source": "webhook"},
		Enabled:      true,
	}
	if err := s.AddSchedule(context.Background(), cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.TriggerEvent(context.Background(), "my.event", map[string]any{"source": "cron"})

	h := s.eventHandlers["my.event"]
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.lastTrigger.IsZero() {
		t.Fatalf("expected non-matching event to never have started a run")
	}
}

func TestTriggerEventRespectsMaxConcurrent(t *testing.T) {
	e := newTestEngine(t)
	s := New(e, 10, 100)
	defer s.admission.Stop()

	cfg := &Config{
		WorkflowName:  "double-wf",
		EventType:     "busy.event",
		Enabled:       true,
		MaxConcurrent: 1,
	}
	if err := s.AddSchedule(context.Background(), cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h := s.eventHandlers["busy.event"]
	h.mu.Lock()
	h.running = 1
	h.mu.Unlock()

	s.TriggerEvent(context.Background(), "busy.event", nil)

	time.Sleep(50 * time.Millisecond)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running != 1 {
		t.Fatalf("expected throttled event to not spawn an extra run, running=%d", h.running)
	}
}

func TestMatchesFilter(t *testing.T) {
	if !matchesFilter(map[string]any{"a": "x"}, nil) {
		t.Fatalf("expected empty filter to match anything")
	}
	if !matchesFilter(map[string]any{"a": "x", "b": "y"}, map[string]any{"a": "x"}) {
		t.Fatalf("expected matching subset filter to match")
	}
	if matchesFilter(map[string]any{"a": "x"}, map[string]any{"a": "z"}) {
		t.Fatalf("expected mismatched value to not match")
	}
	if matchesFilter(map[string]any{"a": "x"}, map[string]any{"missing": "z"}) {
		t.Fatalf("expected missing key to not match")
	}
}
