// Package resilience holds the jittered backoff, circuit breaker and rate
// limiting primitives shared by the executor, scheduler and scheduled
// triggers. It is adapted from the SwarmGuard platform's shared resilience
// library, trimmed to what a single-process workflow engine needs.
package resilience

import (
	"context"
	"math/rand"
	"time"
)

// BackoffPolicy describes a bounded exponential backoff with full jitter.
type BackoffPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64 // default 2.0 when zero
}

// Duration returns the jittered sleep duration before retry attempt n
// (1-indexed: the delay before the 2nd attempt is Duration(1)).
func (p BackoffPolicy) Duration(attempt int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	cur := float64(p.Initial)
	for i := 1; i < attempt; i++ {
		cur *= mult
	}
	if p.Max > 0 && cur > float64(p.Max) {
		cur = float64(p.Max)
	}
	if cur <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(cur) + 1))
}

// Sleep waits for the attempt's backoff duration or until ctx is done,
// whichever comes first. Returns ctx.Err() if cancelled mid-wait.
func (p BackoffPolicy) Sleep(ctx context.Context, attempt int) error {
	d := p.Duration(attempt)
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
