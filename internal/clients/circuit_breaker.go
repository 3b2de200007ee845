package clients

import (
	"time"

	"github.com/sony/gobreaker"
)

// NewCircuitBreaker returns the breaker used around deep-health probes:
// trips after 3 consecutive failures, re-tries one request after 30 seconds
// in the open state.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
}
