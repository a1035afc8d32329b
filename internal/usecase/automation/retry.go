package automation

import (
	"math/rand"
	"time"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

// NextDelay computes the retry handler's backoff for the given attempt
// number (1-indexed, the attempt that just failed), per spec §4.3:
// exponential backoff with ±10% jitter, capped at MaxDelayMs, or a fixed
// delay when Backoff == BackoffFixed.
func NextDelay(policy domain.RetryPolicy, attempt int) time.Duration {
	initial := time.Duration(policy.InitialDelayMs) * time.Millisecond
	maxDelay := time.Duration(policy.MaxDelayMs) * time.Millisecond
	if maxDelay <= 0 {
		maxDelay = initial
	}

	var base time.Duration
	switch policy.Backoff {
	case domain.BackoffFixed:
		base = initial
	default:
		base = initial << uint(attempt-1) // initial * 2^(attempt-1)
	}

	jitter := time.Duration((rand.Float64()*2 - 1) * 0.1 * float64(base))
	delay := base + jitter
	if delay < 0 {
		delay = 0
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// ShouldRetry reports whether a failed execution at attemptNumber should be
// rescheduled rather than permanently failed.
func ShouldRetry(policy domain.RetryPolicy, attemptNumber int) bool {
	return policy.Enabled && attemptNumber < policy.MaxAttempts
}
