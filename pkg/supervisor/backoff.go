package supervisor

import (
	"math"
	"math/rand"
	"time"
)

// nextBackoff computes an exponential backoff with jitter for worker health
// probe retries during startup: base * 2^attempt, plus up to 10% jitter,
// capped so a slow-to-start worker doesn't stall the supervisor forever.
func nextBackoff(base time.Duration, attempt int) time.Duration {
	const maxAttempt = 6
	if attempt > maxAttempt {
		attempt = maxAttempt
	}

	exponential := float64(base) * math.Pow(2, float64(attempt))

	const maxDuration = 10 * time.Second
	if time.Duration(exponential) > maxDuration {
		exponential = float64(maxDuration)
	}

	jitter := time.Duration(rand.Float64() * exponential * 0.1)
	return time.Duration(exponential) + jitter
}
