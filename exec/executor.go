// Package exec wraps a single registered-function invocation with a
// per-attempt timeout, bounded retry, and the task state machine the rest of
// the engine observes (PENDING/READY/RUNNING/SUCCESS/FAILED/TIMEOUT/CANCELLED).
package exec

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/flowengine/internal/resilience"
	"github.com/swarmguard/flowengine/registry"
)

// Status is one state in the task state machine described by the engine's
// execution model. Terminal states are sticky: once reached, a task record
// never transitions again.
type Status string

const (
	Pending   Status = "PENDING"
	Ready     Status = "READY"
	Running   Status = "RUNNING"
	Success   Status = "SUCCESS"
	Failed    Status = "FAILED"
	TimedOut  Status = "TIMEOUT"
	Cancelled Status = "CANCELLED"
)

// Policy bounds one task's retry behavior.
type Policy struct {
	Timeout    time.Duration     // per-attempt deadline
	MaxRetries int               // additional attempts allowed after the first failure
	Backoff    resilience.BackoffPolicy
}

// Result is the outcome of running a task to completion (successfully or
// not). It carries everything the workflow façade needs to build a task
// record and, on success, the value downstream placeholders resolve against.
type Result struct {
	Status   Status
	Output   any
	Err      error
	Attempts int
	Start    time.Time
	End      time.Time
}

var (
	taskDuration metric.Float64Histogram
	taskRetries  metric.Int64Counter
	taskFailures metric.Int64Counter
	tracer       trace.Tracer
)

func init() {
	meter := otel.Meter("flowengine-executor")
	taskDuration, _ = meter.Float64Histogram("flowengine_task_duration_ms")
	taskRetries, _ = meter.Int64Counter("flowengine_task_retries_total")
	taskFailures, _ = meter.Int64Counter("flowengine_task_failures_total")
	tracer = otel.Tracer("flowengine-executor")
}

// Run executes fn under policy, retrying on failure up to policy.MaxRetries
// additional times. breaker may be nil, in which case no circuit-breaking is
// applied. Run never panics or returns an error itself; every outcome,
// including cancellation, is expressed through the returned Result.
func Run(ctx context.Context, taskName string, fn registry.Func, params map[string]any, policy Policy, breaker *resilience.CircuitBreaker) Result {
	ctx, span := tracer.Start(ctx, "task.execute", trace.WithAttributes(attribute.String("task", taskName)))
	defer span.End()

	result := Result{Status: Running, Start: time.Now()}

	wait := policy.Backoff
	attempts := policy.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	var timedOut bool

	for attempt := 1; attempt <= attempts; attempt++ {
		result.Attempts = attempt

		if ctx.Err() != nil {
			result.Status = Cancelled
			result.End = time.Now()
			return result
		}

		if breaker != nil && !breaker.Allow() {
			lastErr = errors.New("exec: circuit breaker open")
			break
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if policy.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
		}

		output, err := fn(attemptCtx, params)
		if cancel != nil {
			cancel()
		}

		if breaker != nil {
			breaker.RecordResult(err == nil)
		}

		if err == nil {
			result.Status = Success
			result.Output = output
			result.End = time.Now()
			taskDuration.Record(ctx, float64(result.End.Sub(result.Start).Milliseconds()),
				metric.WithAttributes(attribute.String("task", taskName)))
			return result
		}

		lastErr = err
		timedOut = attemptCtx.Err() == context.DeadlineExceeded

		if ctx.Err() != nil {
			result.Status = Cancelled
			result.End = time.Now()
			return result
		}

		if attempt < attempts {
			taskRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("task", taskName)))
			if sleepErr := wait.Sleep(ctx, attempt); sleepErr != nil {
				result.Status = Cancelled
				result.End = time.Now()
				return result
			}
		}
	}

	result.End = time.Now()
	result.Err = lastErr
	if timedOut {
		result.Status = TimedOut
	} else {
		result.Status = Failed
	}
	taskFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("task", taskName)))
	return result
}
