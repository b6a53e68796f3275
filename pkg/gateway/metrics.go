package gateway

import (
	"sync"
	"time"
)

// Error kinds tracked per backend.
const (
	errKindTimeout    = "TIMEOUT"
	errKindUpstream   = "UPSTREAM"
	errKindConnection = "CONNECTION"
	errKindInternal   = "INTERNAL"
)

// backendMetrics are one backend's counters. recordSuccess/recordFailure are
// called from concurrent executes; averages are derived at snapshot time.
type backendMetrics struct {
	mu                 sync.Mutex
	totalRequests      int64
	successfulRequests int64
	failedRequests     int64
	totalLatency       time.Duration
	errorsByKind       map[string]int64
	lastRequestTime    time.Time
	lastError          string
}

func newBackendMetrics() *backendMetrics {
	return &backendMetrics{errorsByKind: make(map[string]int64)}
}

func (m *backendMetrics) recordSuccess(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalRequests++
	m.successfulRequests++
	m.totalLatency += latency
	m.lastRequestTime = time.Now()
}

func (m *backendMetrics) recordFailure(kind string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalRequests++
	m.failedRequests++
	m.errorsByKind[kind]++
	m.lastRequestTime = time.Now()
	if err != nil {
		m.lastError = err.Error()
	}
}

func (m *backendMetrics) snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := MetricsSnapshot{
		TotalRequests:      m.totalRequests,
		SuccessfulRequests: m.successfulRequests,
		FailedRequests:     m.failedRequests,
		ErrorsByKind:       make(map[string]int64, len(m.errorsByKind)),
		LastError:          m.lastError,
	}
	for k, v := range m.errorsByKind {
		s.ErrorsByKind[k] = v
	}
	if m.successfulRequests > 0 {
		s.AvgLatencyMs = float64(m.totalLatency.Milliseconds()) / float64(m.successfulRequests)
	}
	if m.totalRequests > 0 {
		s.SuccessRate = float64(m.successfulRequests) / float64(m.totalRequests)
	}
	if !m.lastRequestTime.IsZero() {
		t := m.lastRequestTime
		s.LastRequestTime = &t
	}
	return s
}
