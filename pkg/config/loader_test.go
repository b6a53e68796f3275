package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.MaxParallelAgents)
	assert.Equal(t, 5, cfg.MaxDepthCeiling)
	assert.Equal(t, 2000, cfg.AgentContextLimit)
	assert.Equal(t, 4, cfg.AgentHistoryLimit)
	assert.Equal(t, 60*time.Second, cfg.HealthCheckInterval)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 5, cfg.CircuitBreakerThreshold)
	assert.Equal(t, 60*time.Second, cfg.CircuitBreakerTimeout)
	assert.Equal(t, 300*time.Second, cfg.CacheTTL)
	assert.Equal(t, ProviderOpenAI, cfg.LLM.Provider)
	assert.Empty(t, cfg.Backends)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("MAX_PARALLEL_AGENTS", "8")
	t.Setenv("CACHE_TTL", "120")
	t.Setenv("CIRCUIT_BREAKER_TIMEOUT", "90s")
	t.Setenv("LLM_PROVIDER", "claude")
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	t.Setenv("LLM_TEMPERATURE", "0.2")
	t.Setenv("MCP_WEBSEARCH_URL", "http://localhost:9001")
	t.Setenv("MCP_FILESYSTEM_URL", "http://localhost:9002")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.MaxParallelAgents)
	assert.Equal(t, 120*time.Second, cfg.CacheTTL)
	assert.Equal(t, 90*time.Second, cfg.CircuitBreakerTimeout)
	assert.Equal(t, ProviderClaude, cfg.LLM.Provider)
	assert.Equal(t, "test-key", cfg.LLM.APIKey)
	assert.InDelta(t, 0.2, cfg.LLM.Temperature, 0.001)

	require.Len(t, cfg.Backends, 2)
	// Registration follows the builtin ordering, filesystem before websearch.
	assert.Equal(t, "filesystem", cfg.Backends[0].Name)
	assert.Equal(t, "http://localhost:9002", cfg.Backends[0].URL)
	assert.Contains(t, cfg.Backends[1].Capabilities, "search")
}

func TestFromEnv_BackendsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backends.yaml")
	content := `backends:
  - name: websearch
    url: http://override:9100
    enabled: true
    capabilities: [search]
  - name: weather
    url: http://localhost:9200
    enabled: true
    capabilities: [forecast]
    timeout: 10s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("MCP_WEBSEARCH_URL", "http://localhost:9001")
	t.Setenv("BACKENDS_FILE", path)

	cfg, err := FromEnv()
	require.NoError(t, err)

	require.Len(t, cfg.Backends, 2)
	assert.Equal(t, "http://override:9100", cfg.Backends[0].URL, "file entry overrides env registration")
	assert.Equal(t, "weather", cfg.Backends[1].Name)
	assert.Equal(t, 10*time.Second, cfg.Backends[1].Timeout)
}

func TestStats(t *testing.T) {
	t.Setenv("MAX_PARALLEL_AGENTS", "7")
	t.Setenv("MCP_WEBSEARCH_URL", "http://localhost:9001")

	cfg, err := FromEnv()
	require.NoError(t, err)

	stats := cfg.Stats()
	assert.Equal(t, 1, stats.Backends)
	assert.Equal(t, 7, stats.MaxParallel)
	assert.Equal(t, ProviderOpenAI, stats.Provider)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "zero parallelism",
			mutate:  func(c *Config) { c.MaxParallelAgents = 0 },
			wantErr: "MAX_PARALLEL_AGENTS",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.LLM.Provider = "palm" },
			wantErr: "LLM_PROVIDER",
		},
		{
			name: "duplicate backend",
			mutate: func(c *Config) {
				c.Backends = []BackendConfig{
					{Name: "memory", URL: "http://a"},
					{Name: "memory", URL: "http://b"},
				}
			},
			wantErr: "duplicate backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := FromEnv()
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
