package loop

import (
	"context"
	"math"
	"math/rand"
	"time"
)

const (
	retryBaseDelay    = time.Second
	backoffMultiplier = 2.0
	jitterFraction    = 0.25
)

// retryDelay computes the backoff before retry attempt (0-based):
// base * 2^attempt with +/-25% jitter to avoid lockstep retries, capped
// at max after jitter.
func retryDelay(base time.Duration, attempt int, max time.Duration) time.Duration {
	delay := float64(base) * math.Pow(backoffMultiplier, float64(attempt))
	if math.IsInf(delay, 0) || math.IsNaN(delay) {
		delay = float64(max)
	}
	delay += delay * jitterFraction * (rand.Float64()*2 - 1)
	if max > 0 && delay > float64(max) {
		delay = float64(max)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// sleepContext waits for d, returning the context's error if cancelled
// first. The timer is stopped and drained on early exit.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		if !timer.Stop() {
			<-timer.C
		}
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
