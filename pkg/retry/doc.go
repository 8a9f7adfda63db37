// Package retry provides a bounded retry loop with fixed or exponential delays.
//
// Fixed(n, d) gives n attempts with d between each, as used for delivery to
// the collector. A Config with Multiplier > 1 grows the delay up to MaxDelay.
//
// Usage:
//
//	err := retry.Do(ctx, retry.Fixed(3, time.Second), func() error {
//	    return send(ctx, rec)
//	})
//	var exhausted *retry.ExhaustedError
//	if errors.As(err, &exhausted) {
//	    // every attempt failed
//	}
//
// Wrap an error with NonRetryable to stop the loop early. Cancelling ctx
// abandons any pending delay.
package retry
