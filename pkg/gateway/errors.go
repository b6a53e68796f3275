package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrBackendNotFound reports that the named backend is not registered.
	ErrBackendNotFound = errors.New("unknown backend")
	// ErrToolNotFound reports that the backend does not serve the named tool.
	ErrToolNotFound = errors.New("unknown tool")
)

// CircuitOpenError is returned when a backend breaker refuses the call.
type CircuitOpenError struct {
	Backend string
	State   BreakerState
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker for %s is %s", e.Backend, e.State)
}

// TimeoutError is returned when every attempt against the backend timed out.
type TimeoutError struct {
	Backend  string
	Tool     string
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s/%s timed out after %d attempts", e.Backend, e.Tool, e.Attempts)
}

// UpstreamError is returned when the backend answers with a non-2xx status.
type UpstreamError struct {
	Backend string
	Status  int
	Body    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Backend, e.Status, e.Body)
}

// InternalError is returned when the gateway itself fails (marshaling, transport setup).
type InternalError struct {
	Backend string
	Err     error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("gateway error for %s: %v", e.Backend, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }
