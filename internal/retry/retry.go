// Package retry runs an operation again after transient failures.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Do executes fn, retrying up to maxRetries times while retriable reports
// true for the returned error. Retries use jittered exponential backoff
// starting at baseDelay. Cancellation of ctx ends the wait and is returned.
func Do(ctx context.Context, maxRetries int, baseDelay time.Duration, retriable func(error) bool, fn func() error) error {
	var err error
	for attempt := range maxRetries + 1 {
		err = fn()
		if err == nil || !retriable(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}
		var jitter time.Duration
		if baseDelay > 0 {
			jitter = time.Duration(rand.Int64N(int64(baseDelay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		}
		timer := time.NewTimer(baseDelay + jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		baseDelay *= 2
	}
	return err
}
