package retry

import (
	"time"

	"github.com/sony/gobreaker"
)

// NewBreaker wraps sony/gobreaker with the engine's tripping policy: open
// after 5 consecutive failures, half-open after 15s, same shape as the
// teacher's adaptive rate limiter's ConsecutiveFailThreshold/
// OpenStateDuration defaults, applied here to source and sink calls
// instead of per-domain crawl rate limiting.
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}
