package exec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/swarmguard/flowengine/internal/resilience"
	"github.com/swarmguard/flowengine/registry"
)

func TestRunSuccess(t *testing.T) {
	fn := registry.Func(func(ctx context.Context, params map[string]any) (any, error) {
		return params["n"].(int) * 2, nil
	})
	result := Run(context.Background(), "double", fn, map[string]any{"n": 3}, Policy{Timeout: time.Second}, nil)
	if result.Status != Success {
		t.Fatalf("expected SUCCESS, got %s (%v)", result.Status, result.Err)
	}
	if result.Output != 6 {
		t.Fatalf("expected 6, got %v", result.Output)
	}
	if result.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", result.Attempts)
	}
}

func TestRunTimeout(t *testing.T) {
	fn := registry.Func(func(ctx context.Context, params map[string]any) (any, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return "too slow", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	policy := Policy{Timeout: 20 * time.Millisecond, Backoff: resilience.BackoffPolicy{Initial: time.Millisecond}}
	result := Run(context.Background(), "slow", fn, nil, policy, nil)
	if result.Status != TimedOut {
		t.Fatalf("expected TIMEOUT, got %s", result.Status)
	}
}

func TestRunRetryThenSucceed(t *testing.T) {
	attempts := 0
	fn := registry.Func(func(ctx context.Context, params map[string]any) (any, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("flaky failure")
		}
		return "ok", nil
	})
	policy := Policy{
		Timeout:    time.Second,
		MaxRetries: 2,
		Backoff:    resilience.BackoffPolicy{Initial: time.Millisecond, Max: 5 * time.Millisecond},
	}
	result := Run(context.Background(), "flaky", fn, nil, policy, nil)
	if result.Status != Success {
		t.Fatalf("expected SUCCESS, got %s", result.Status)
	}
	if result.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", result.Attempts)
	}
}

func TestRunFailedAfterRetriesExhausted(t *testing.T) {
	fn := registry.Func(func(ctx context.Context, params map[string]any) (any, error) {
		return nil, errors.New("permanent failure")
	})
	policy := Policy{
		Timeout:    time.Second,
		MaxRetries: 1,
		Backoff:    resilience.BackoffPolicy{Initial: time.Millisecond, Max: 5 * time.Millisecond},
	}
	result := Run(context.Background(), "broken", fn, nil, policy, nil)
	if result.Status != Failed {
		t.Fatalf("expected FAILED, got %s", result.Status)
	}
	if result.Attempts != 2 {
		t.Fatalf("expected 2 attempts (1 + 1 retry), got %d", result.Attempts)
	}
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fn := registry.Func(func(ctx context.Context, params map[string]any) (any, error) {
		return "unreachable", nil
	})
	result := Run(ctx, "whatever", fn, nil, Policy{Timeout: time.Second}, nil)
	if result.Status != Cancelled {
		t.Fatalf("expected CANCELLED, got %s", result.Status)
	}
}

func TestRunBreakerOpenShortCircuits(t *testing.T) {
	breaker := resilience.NewCircuitBreaker(time.Second, 2, 1, 0.1, time.Hour, 1)
	calls := 0
	fn := registry.Func(func(ctx context.Context, params map[string]any) (any, error) {
		calls++
		return nil, errors.New("boom")
	})
	policy := Policy{Timeout: time.Second, Backoff: resilience.BackoffPolicy{Initial: time.Millisecond}}

	// Trip the breaker.
	Run(context.Background(), "guarded", fn, nil, policy, breaker)
	if breaker.Allow() {
		t.Fatalf("expected breaker to be open after a failure past threshold")
	}

	// With the breaker open, Run fails without invoking fn.
	result := Run(context.Background(), "guarded", fn, nil, policy, breaker)
	if result.Status != Failed {
		t.Fatalf("expected FAILED while breaker is open, got %s", result.Status)
	}
	if calls != 1 {
		t.Fatalf("expected fn not to be called while breaker is open, calls=%d", calls)
	}
}
