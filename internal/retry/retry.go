// Package retry implements the pipeline's shared bounded-retry policy:
// exponential backoff with jitter, cancellable through the run context.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy bounds a retry loop. The zero value is unusable; use Default or
// fill every field.
type Policy struct {
	MaxAttempts int
	BaseWait    time.Duration
	Factor      float64
	MaxWait     time.Duration
	// Jitter is the fractional spread around each wait, 0.25 meaning ±25%.
	Jitter float64
	// RetryIf decides whether an error is worth another attempt. A nil
	// RetryIf retries everything.
	RetryIf func(error) bool
}

// Default mirrors the upstream client contract: 3 attempts, 1s base,
// doubling, ±25% jitter, 30s cap.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseWait:    time.Second,
		Factor:      2,
		MaxWait:     30 * time.Second,
		Jitter:      0.25,
	}
}

// Wait returns the backoff before attempt n (0-based: Wait(0) follows the
// first failure).
func (p Policy) Wait(attempt int) time.Duration {
	wait := float64(p.BaseWait)
	for i := 0; i < attempt; i++ {
		wait *= p.Factor
	}
	if p.Jitter > 0 {
		spread := wait * p.Jitter
		wait = wait - spread + rand.Float64()*2*spread
	}
	if capped := float64(p.MaxWait); p.MaxWait > 0 && wait > capped {
		wait = capped
	}
	return time.Duration(wait)
}

// Do runs fn up to MaxAttempts times, sleeping the policy's backoff between
// attempts. It returns fn's first success, the first non-retryable error, or
// the last error once attempts are exhausted. Sleeps abort immediately when
// ctx is done.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if p.RetryIf != nil && !p.RetryIf(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts-1 {
			break
		}

		timer := time.NewTimer(p.Wait(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
