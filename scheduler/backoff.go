package scheduler

import (
	"math/rand"
	"time"
)

// retryDelay computes the backoff before the given attempt is retried:
// baseDelay * 2^(attempts-1), capped at maxDelay, with a jitter fraction
// added to prevent retry storms hitting the store in lockstep.
func retryDelay(attempts int, baseDelay time.Duration, maxDelay time.Duration, jitterFactor float64) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	delay := baseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= maxDelay {
			delay = maxDelay
			break
		}
	}

	if delay > maxDelay {
		delay = maxDelay
	}

	jitter := time.Duration(rand.Float64() * float64(delay) * jitterFactor) //nolint:gosec // math/rand is sufficient for jitter

	return delay + jitter
}
