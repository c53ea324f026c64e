package fetch

import (
	"math"
	"time"
)

// retryableStatuses are the transient HTTP responses worth another attempt.
// Every other non-200 status is terminal for the request.
var retryableStatuses = map[int]struct{}{
	429: {},
	500: {},
	502: {},
	503: {},
	504: {},
}

// Retryable reports whether the status code indicates a transient failure.
func Retryable(status int) bool {
	_, ok := retryableStatuses[status]
	return ok
}

// backoffPolicy computes jittered exponential waits between attempts.
type backoffPolicy struct {
	baseDelay time.Duration
	maxDelay  time.Duration
}

func newBackoffPolicy(base, max time.Duration) backoffPolicy {
	if base <= 0 {
		base = 5 * time.Second
	}
	if max <= 0 {
		max = 80 * time.Second
	}
	return backoffPolicy{baseDelay: base, maxDelay: max}
}

// Backoff returns base * 2^attempt plus up to two seconds of jitter,
// capped at the configured maximum.
func (p backoffPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	return time.Duration(delay) + randomJitter(2*time.Second)
}
