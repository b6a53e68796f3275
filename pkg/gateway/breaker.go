package gateway

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker's position.
type BreakerState string

const (
	StateClosed   BreakerState = "CLOSED"
	StateOpen     BreakerState = "OPEN"
	StateHalfOpen BreakerState = "HALF_OPEN"
)

// CircuitBreaker gates calls to one backend. CLOSED counts failures; at
// threshold it opens. After cooldown the next permitted call runs as a
// single HALF_OPEN trial: success closes the breaker, failure reopens it and
// resets the cooldown clock.
type CircuitBreaker struct {
	mu               sync.Mutex
	threshold        int
	cooldown         time.Duration
	state            BreakerState
	failureCount     int
	lastFailureTime  time.Time
	lastSuccessTime  time.Time
	halfOpenInFlight bool

	now func() time.Time // injected in tests
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		state:     StateClosed,
		now:       time.Now,
	}
}

// CanExecute reports whether a call may proceed, transitioning OPEN to
// HALF_OPEN once the cooldown has elapsed. In HALF_OPEN only one trial is
// in flight at a time.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) < cb.cooldown {
			return false
		}
		cb.state = StateHalfOpen
		cb.halfOpenInFlight = true
		return true
	default: // HALF_OPEN
		if cb.halfOpenInFlight {
			return false
		}
		cb.halfOpenInFlight = true
		return true
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failureCount = 0
	cb.halfOpenInFlight = false
	cb.lastSuccessTime = cb.now()
}

// RecordFailure counts a failure, opening the breaker at threshold or
// immediately when a HALF_OPEN trial fails.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = cb.now()

	if cb.state == StateHalfOpen || cb.failureCount >= cb.threshold {
		cb.state = StateOpen
	}
	cb.halfOpenInFlight = false
}

// State returns the current position without transitioning it.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// FailureCount is exposed for metrics.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}
