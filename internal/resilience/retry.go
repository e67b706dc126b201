package resilience

import (
	"context"

	"go.opentelemetry.io/otel"
)

// Retry executes fn up to attempts times with full-jitter exponential
// backoff between tries, honoring ctx cancellation. It is a convenience
// wrapper over BackoffPolicy for callers that don't need per-attempt state
// beyond the final value or error; no package in this module calls it
// outside its tests. The executor tracks richer per-attempt detail and calls
// BackoffPolicy directly instead of this helper.
func Retry[T any](ctx context.Context, attempts int, policy BackoffPolicy, fn func() (T, error)) (T, error) {
	var zero T
	if attempts <= 0 {
		return zero, nil
	}

	meter := otel.Meter("flowengine-resilience")
	attemptCounter, _ := meter.Int64Counter("flowengine_retry_attempts_total")
	successCounter, _ := meter.Int64Counter("flowengine_retry_success_total")
	failCounter, _ := meter.Int64Counter("flowengine_retry_fail_total")

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := fn()
		attemptCounter.Add(ctx, 1)
		if err == nil {
			successCounter.Add(ctx, 1)
			return v, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		if sleepErr := policy.Sleep(ctx, attempt); sleepErr != nil {
			failCounter.Add(ctx, 1)
			return zero, sleepErr
		}
	}
	failCounter.Add(ctx, 1)
	return zero, lastErr
}
