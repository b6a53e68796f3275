// Package gateway implements the tool gateway: a long-lived service fronting
// backend tool servers with health checking, per-backend circuit breakers,
// response caching, bounded retries and batch execution.
package gateway

import (
	"encoding/json"
	"time"
)

// ToolParam describes one parameter of a tool.
type ToolParam struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// ToolDescriptor is the shape backends advertise from GET /tools.
type ToolDescriptor struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Parameters  map[string]ToolParam `json:"parameters"`
}

// BatchRequest is one entry of a POST /batch call.
type BatchRequest struct {
	Server string         `json:"server"`
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params"`
}

// BatchResult mirrors one BatchRequest. Exactly one of Result and Error is
// set.
type BatchResult struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// BackendStatus is the /servers view of one backend.
type BackendStatus struct {
	Name           string   `json:"name"`
	URL            string   `json:"url"`
	Enabled        bool     `json:"enabled"`
	Healthy        bool     `json:"healthy"`
	Capabilities   []string `json:"capabilities"`
	ToolsCount     int      `json:"tools_count"`
	CircuitBreaker string   `json:"circuit_breaker"`
}

// HealthSummary is the /health view of the gateway.
type HealthSummary struct {
	Status          string            `json:"status"`
	Servers         map[string]bool   `json:"servers"`
	TotalServers    int               `json:"total_servers"`
	HealthyServers  int               `json:"healthy_servers"`
	CircuitBreakers map[string]string `json:"circuit_breakers"`
}

// MetricsReport is the /metrics view.
type MetricsReport struct {
	Gateway GatewayMetrics             `json:"gateway"`
	Servers map[string]MetricsSnapshot `json:"servers"`
}

// GatewayMetrics are process-wide counters.
type GatewayMetrics struct {
	UptimeSeconds  float64 `json:"uptime_seconds"`
	TotalRequests  int64   `json:"total_requests"`
	CacheHits      int64   `json:"cache_hits"`
	CacheSize      int     `json:"cache_size"`
	TotalServers   int     `json:"total_servers"`
	HealthyServers int     `json:"healthy_servers"`
}

// MetricsSnapshot is one backend's counters, with the derived averages
// computed on read.
type MetricsSnapshot struct {
	TotalRequests      int64            `json:"total_requests"`
	SuccessfulRequests int64            `json:"successful_requests"`
	FailedRequests     int64            `json:"failed_requests"`
	AvgLatencyMs       float64          `json:"avg_latency_ms"`
	SuccessRate        float64          `json:"success_rate"`
	ErrorsByKind       map[string]int64 `json:"errors_by_kind"`
	LastRequestTime    *time.Time       `json:"last_request_time,omitempty"`
	LastError          string           `json:"last_error,omitempty"`
	CircuitBreaker     string           `json:"circuit_breaker"`
}
