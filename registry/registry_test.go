package registry

import (
	"context"
	"testing"
)

func TestRegisterLookup(t *testing.T) {
	r := New()
	r.Register("double", func(ctx context.Context, params map[string]any) (any, error) {
		n, _ := params["n"].(int)
		return n * 2, nil
	})

	fn, err := r.Lookup("double")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := fn(context.Background(), map[string]any{"n": 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != 6 {
		t.Fatalf("expected 6, got %v", out)
	}
}

func TestLookupMissing(t *testing.T) {
	r := New()
	if _, err := r.Lookup("ghost"); err == nil {
		t.Fatalf("expected error for unregistered function")
	}
}

func TestRegisterLastWins(t *testing.T) {
	r := New()
	r.Register("f", func(ctx context.Context, params map[string]any) (any, error) { return 1, nil })
	r.Register("f", func(ctx context.Context, params map[string]any) (any, error) { return 2, nil })

	fn, _ := r.Lookup("f")
	out, _ := fn(context.Background(), nil)
	if out != 2 {
		t.Fatalf("expected last registration to win, got %v", out)
	}
}

func TestList(t *testing.T) {
	r := New()
	r.Register("b", func(ctx context.Context, params map[string]any) (any, error) { return nil, nil })
	r.Register("a", func(ctx context.Context, params map[string]any) (any, error) { return nil, nil })

	names := r.List()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("expected sorted [a b], got %v", names)
	}
}

func TestBreakerPersistsAcrossCalls(t *testing.T) {
	r := New()
	b1 := r.Breaker("f")
	b2 := r.Breaker("f")
	if b1 != b2 {
		t.Fatalf("expected the same breaker instance to be returned")
	}
}
