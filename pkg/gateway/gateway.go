package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polyphonic-ai/maestro/pkg/config"
)

// healthProbeTimeout caps the /health and /tools probes against a backend.
const healthProbeTimeout = 5 * time.Second

// toolNameRe guards against path injection through tool names.
var toolNameRe = regexp.MustCompile(`^[a-zA-Z0-9_\-]+$`)

// backend is the gateway's per-server state: one persistent HTTP client, one
// breaker, one metrics block and the cached tool list.
type backend struct {
	cfg     config.BackendConfig
	client  *http.Client
	breaker *CircuitBreaker
	metrics *backendMetrics

	mu      sync.RWMutex
	healthy bool
	tools   []ToolDescriptor
}

func (b *backend) setHealth(healthy bool, tools []ToolDescriptor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthy = healthy
	if tools != nil {
		b.tools = tools
	}
}

func (b *backend) snapshot() (healthy bool, tools []ToolDescriptor) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.healthy, b.tools
}

// Gateway owns the backend registry, the shared response cache and the
// process-wide counters. It is safe for concurrent use.
type Gateway struct {
	mu       sync.RWMutex
	backends map[string]*backend

	cache     *responseCache
	cfg       *config.Config
	logger    *slog.Logger
	startTime time.Time

	totalRequests atomic.Int64
	cacheHits     atomic.Int64
}

func New(cfg *config.Config) *Gateway {
	return &Gateway{
		backends:  make(map[string]*backend),
		cache:     newResponseCache(cfg.CacheTTL),
		cfg:       cfg,
		logger:    slog.Default().With("component", "gateway"),
		startTime: time.Now(),
	}
}

// RegisterBackend stores the backend, opens its persistent client and runs an
// immediate health check with tool discovery. An unreachable backend still
// registers; the health monitor will pick it up once it comes back.
func (g *Gateway) RegisterBackend(ctx context.Context, cfg config.BackendConfig) error {
	if cfg.Name == "" || cfg.URL == "" {
		return fmt.Errorf("backend registration needs both name and url")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = g.cfg.RequestTimeout
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	b := &backend{
		cfg:     cfg,
		client:  &http.Client{},
		breaker: NewCircuitBreaker(g.cfg.CircuitBreakerThreshold, g.cfg.CircuitBreakerTimeout),
		metrics: newBackendMetrics(),
	}

	g.mu.Lock()
	g.backends[cfg.Name] = b
	g.mu.Unlock()

	if err := g.probe(ctx, b); err != nil {
		g.logger.Warn("Backend registered but initial health check failed",
			"backend", cfg.Name, "url", cfg.URL, "error", err)
	} else {
		_, tools := b.snapshot()
		g.logger.Info("Backend registered",
			"backend", cfg.Name, "url", cfg.URL, "tools", len(tools))
	}
	return nil
}

// UnregisterBackend drops all state for the named backend.
func (g *Gateway) UnregisterBackend(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.backends[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrBackendNotFound, name)
	}
	b.client.CloseIdleConnections()
	delete(g.backends, name)
	g.logger.Info("Backend unregistered", "backend", name)
	return nil
}

func (g *Gateway) backend(name string) (*backend, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	b, ok := g.backends[name]
	return b, ok
}

func (g *Gateway) allBackends() map[string]*backend {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]*backend, len(g.backends))
	for name, b := range g.backends {
		out[name] = b
	}
	return out
}

// ListTools returns the discovered tools of healthy backends only.
func (g *Gateway) ListTools() map[string][]ToolDescriptor {
	out := make(map[string][]ToolDescriptor)
	for name, b := range g.allBackends() {
		healthy, tools := b.snapshot()
		if !healthy || !b.cfg.Enabled {
			continue
		}
		out[name] = tools
	}
	return out
}

// Execute routes one tool call: cache lookup, breaker gate, POST to the
// backend with retries on timeout, metrics on every outcome. The cache runs
// before the breaker so a hit never consumes the HALF_OPEN trial slot; every
// path past the gate ends in RecordSuccess or RecordFailure.
func (g *Gateway) Execute(ctx context.Context, server, tool string, params map[string]any, useCache bool) (json.RawMessage, error) {
	g.totalRequests.Add(1)

	b, ok := g.backend(server)
	if !ok || !b.cfg.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrBackendNotFound, server)
	}
	if !toolNameRe.MatchString(tool) {
		return nil, fmt.Errorf("%w: invalid tool name %q", ErrToolNotFound, tool)
	}

	var key string
	if useCache {
		key = cacheKey(server, tool, params)
		if result, hit := g.cache.get(key); hit {
			g.cacheHits.Add(1)
			return result, nil
		}
	}

	if !b.breaker.CanExecute() {
		return nil, &CircuitOpenError{Backend: server, State: b.breaker.State()}
	}

	attempts := 1 + g.cfg.MaxRetries
	for attempt := 1; ; attempt++ {
		start := time.Now()
		result, err := g.callBackend(ctx, b, tool, params)
		if err == nil {
			b.breaker.RecordSuccess()
			b.metrics.recordSuccess(time.Since(start))
			if useCache {
				g.cache.put(key, result)
			}
			return result, nil
		}

		if !isTimeout(err) {
			return nil, g.recordFailure(b, server, err)
		}

		// Each timed-out attempt counts against the breaker and metrics.
		b.metrics.recordFailure(errKindTimeout, err)
		b.breaker.RecordFailure()
		if attempt >= attempts || b.breaker.State() == StateOpen {
			return nil, &TimeoutError{Backend: server, Tool: tool, Attempts: attempt}
		}
		g.logger.Warn("Tool call timed out, retrying",
			"backend", server, "tool", tool, "attempt", attempt)
	}
}

// callBackend performs one POST /tools/<tool> round-trip under the backend's
// configured timeout.
func (g *Gateway) callBackend(ctx context.Context, b *backend, tool string, params map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, &InternalError{Backend: b.cfg.Name, Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	url := fmt.Sprintf("%s/tools/%s", b.cfg.URL, tool)
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &InternalError{Backend: b.cfg.Name, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s on %s", ErrToolNotFound, tool, b.cfg.Name)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{
			Backend: b.cfg.Name,
			Status:  resp.StatusCode,
			Body:    strings.TrimSpace(string(respBody)),
		}
	}
	return json.RawMessage(respBody), nil
}

// recordFailure classifies a non-timeout error into the metrics and records
// a breaker failure, returning the error to surface. Every outcome reaches
// the breaker, 404s included, so a HALF_OPEN trial always gets a verdict and
// the single-trial slot is released.
func (g *Gateway) recordFailure(b *backend, server string, err error) error {
	b.breaker.RecordFailure()

	var upstream *UpstreamError
	var internal *InternalError
	switch {
	case errors.Is(err, ErrToolNotFound), errors.As(err, &upstream):
		b.metrics.recordFailure(errKindUpstream, err)
		return err
	case errors.As(err, &internal):
		b.metrics.recordFailure(errKindInternal, err)
		return err
	default:
		b.metrics.recordFailure(errKindConnection, err)
		return &InternalError{Backend: server, Err: err}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ExecuteBatch fans requests out concurrently or runs them in order. One
// request's failure never fails the batch.
func (g *Gateway) ExecuteBatch(ctx context.Context, requests []BatchRequest, parallel bool) []BatchResult {
	results := make([]BatchResult, len(requests))
	run := func(i int) {
		result, err := g.Execute(ctx, requests[i].Server, requests[i].Tool, requests[i].Params, true)
		if err != nil {
			results[i] = BatchResult{Success: false, Error: err.Error()}
			return
		}
		results[i] = BatchResult{Success: true, Result: result}
	}

	if !parallel {
		for i := range requests {
			run(i)
		}
		return results
	}

	var eg errgroup.Group
	for i := range requests {
		eg.Go(func() error {
			run(i)
			return nil
		})
	}
	_ = eg.Wait()
	return results
}

// probe checks one backend's /health and refreshes its tool list on success.
// Probe outcomes feed the breaker: health recovery is what walks an OPEN
// breaker back to CLOSED.
func (g *Gateway) probe(ctx context.Context, b *backend) error {
	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, b.cfg.URL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		b.setHealth(false, nil)
		b.breaker.RecordFailure()
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b.setHealth(false, nil)
		b.breaker.RecordFailure()
		return fmt.Errorf("health check returned HTTP %d", resp.StatusCode)
	}

	tools, err := g.discoverTools(ctx, b)
	if err != nil {
		g.logger.Warn("Tool discovery failed", "backend", b.cfg.Name, "error", err)
		tools = nil
	}
	b.setHealth(true, tools)
	b.breaker.RecordSuccess()
	return nil
}

func (g *Gateway) discoverTools(ctx context.Context, b *backend) ([]ToolDescriptor, error) {
	discCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(discCtx, http.MethodGet, b.cfg.URL+"/tools", nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tool discovery returned HTTP %d", resp.StatusCode)
	}

	var payload struct {
		Tools []ToolDescriptor `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return payload.Tools, nil
}

// CheckBackend runs an immediate probe of one backend.
func (g *Gateway) CheckBackend(ctx context.Context, name string) error {
	b, ok := g.backend(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrBackendNotFound, name)
	}
	return g.probe(ctx, b)
}

// CheckAll probes every registered backend. Called by the health monitor.
func (g *Gateway) CheckAll(ctx context.Context) {
	for name, b := range g.allBackends() {
		if err := g.probe(ctx, b); err != nil {
			g.logger.Debug("Health probe failed", "backend", name, "error", err)
		}
	}
}

// Health summarizes the gateway's view of its backends.
func (g *Gateway) Health() HealthSummary {
	backends := g.allBackends()
	s := HealthSummary{
		Servers:         make(map[string]bool, len(backends)),
		CircuitBreakers: make(map[string]string, len(backends)),
		TotalServers:    len(backends),
	}
	for name, b := range backends {
		healthy, _ := b.snapshot()
		s.Servers[name] = healthy
		s.CircuitBreakers[name] = string(b.breaker.State())
		if healthy {
			s.HealthyServers++
		}
	}
	switch {
	case s.TotalServers == 0 || s.HealthyServers == s.TotalServers:
		s.Status = "healthy"
	case s.HealthyServers > 0:
		s.Status = "degraded"
	default:
		s.Status = "unhealthy"
	}
	return s
}

// Servers returns the /servers view.
func (g *Gateway) Servers() []BackendStatus {
	backends := g.allBackends()
	out := make([]BackendStatus, 0, len(backends))
	for name, b := range backends {
		healthy, tools := b.snapshot()
		out = append(out, BackendStatus{
			Name:           name,
			URL:            b.cfg.URL,
			Enabled:        b.cfg.Enabled,
			Healthy:        healthy,
			Capabilities:   b.cfg.Capabilities,
			ToolsCount:     len(tools),
			CircuitBreaker: string(b.breaker.State()),
		})
	}
	return out
}

// Metrics reports per-backend counters plus gateway-wide totals.
func (g *Gateway) Metrics() MetricsReport {
	backends := g.allBackends()
	report := MetricsReport{
		Servers: make(map[string]MetricsSnapshot, len(backends)),
	}
	healthyCount := 0
	for name, b := range backends {
		snap := b.metrics.snapshot()
		snap.CircuitBreaker = string(b.breaker.State())
		report.Servers[name] = snap
		if healthy, _ := b.snapshot(); healthy {
			healthyCount++
		}
	}
	report.Gateway = GatewayMetrics{
		UptimeSeconds:  time.Since(g.startTime).Seconds(),
		TotalRequests:  g.totalRequests.Load(),
		CacheHits:      g.cacheHits.Load(),
		CacheSize:      g.cache.size(),
		TotalServers:   len(backends),
		HealthyServers: healthyCount,
	}
	return report
}

// ClearCache drops every cached response and returns the count.
func (g *Gateway) ClearCache() int {
	return g.cache.clear()
}
