package coordinator

import (
	"time"

	"github.com/sony/gobreaker"
)

const (
	breakerMaxRequests      = 1
	breakerInterval         = time.Minute
	breakerTimeout          = 30 * time.Second
	breakerFailureThreshold = 3
	breakerMinRequests      = 10
	breakerFailureRatio     = 0.6
)

// newBreaker trips after breakerFailureThreshold consecutive primary failures, or when most of the
// recent attempts failed, and lets one probe through after breakerTimeout.
func newBreaker(name string, l logger, m recorder) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: breakerMaxRequests,
		Interval:    breakerInterval,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= breakerFailureThreshold {
				return true
			}
			if counts.Requests >= breakerMinRequests {
				return float64(counts.TotalFailures)/float64(counts.Requests) >= breakerFailureRatio
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.Warnf("newBreaker: Circuit breaker for %s changed from %s to %s", name, from, to)
			m.SetBreakerState(name, int(to))
		},
	})
}
