package config

import (
	"fmt"
	"time"
)

// Config is the umbrella configuration object for the orchestrator and the
// gateway. It is produced by FromEnv and treated as read-only afterwards.
type Config struct {
	// Scheduler
	MaxParallelAgents int
	MaxDepthCeiling   int

	// Agent prompt trimming
	AgentContextLimit int
	AgentHistoryLimit int

	// Gateway tunables
	HealthCheckInterval     time.Duration
	RequestTimeout          time.Duration
	MaxRetries              int
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
	CacheTTL                time.Duration

	// LLM adapter bindings
	LLM LLMConfig

	// Gateway address the orchestrator's tool client talks to.
	GatewayURL string

	// Backend registrations applied at gateway startup.
	Backends []BackendConfig

	// Optional integrations
	DatabaseURL  string
	SlackToken   string
	SlackChannel string
}

// LLMConfig binds the provider-neutral client to one concrete provider.
type LLMConfig struct {
	Provider    string // openai | ollama | claude
	Model       string
	APIKey      string
	BaseURL     string // openai-compatible endpoints only (ollama)
	Temperature float32
	Timeout     time.Duration
}

// BackendConfig describes one tool server registered with the gateway.
type BackendConfig struct {
	Name         string        `yaml:"name"`
	URL          string        `yaml:"url"`
	Enabled      bool          `yaml:"enabled"`
	Capabilities []string      `yaml:"capabilities"`
	Timeout      time.Duration `yaml:"timeout"`
	Priority     int           `yaml:"priority"`
}

// Validate checks invariants that would otherwise surface as confusing
// runtime behavior.
func (c *Config) Validate() error {
	if c.MaxParallelAgents < 1 {
		return fmt.Errorf("%w: MAX_PARALLEL_AGENTS must be >= 1, got %d", ErrInvalidConfig, c.MaxParallelAgents)
	}
	if c.MaxDepthCeiling < 1 || c.MaxDepthCeiling > 5 {
		return fmt.Errorf("%w: max depth ceiling must be in [1,5], got %d", ErrInvalidConfig, c.MaxDepthCeiling)
	}
	if c.CircuitBreakerThreshold < 1 {
		return fmt.Errorf("%w: CIRCUIT_BREAKER_THRESHOLD must be >= 1, got %d", ErrInvalidConfig, c.CircuitBreakerThreshold)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: MAX_RETRIES must be >= 0, got %d", ErrInvalidConfig, c.MaxRetries)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: REQUEST_TIMEOUT must be positive", ErrInvalidConfig)
	}
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderOllama, ProviderClaude:
	default:
		return fmt.Errorf("%w: unknown LLM_PROVIDER %q", ErrInvalidConfig, c.LLM.Provider)
	}
	seen := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if b.Name == "" || b.URL == "" {
			return fmt.Errorf("%w: backend entries need both name and url", ErrInvalidConfig)
		}
		if seen[b.Name] {
			return fmt.Errorf("%w: duplicate backend %q", ErrInvalidConfig, b.Name)
		}
		seen[b.Name] = true
	}
	return nil
}

// Stats returns configuration statistics for startup logging.
type Stats struct {
	Backends    int
	MaxParallel int
	Provider    string
}

func (c *Config) Stats() Stats {
	return Stats{
		Backends:    len(c.Backends),
		MaxParallel: c.MaxParallelAgents,
		Provider:    c.LLM.Provider,
	}
}
