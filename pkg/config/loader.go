package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// FromEnv builds the configuration from the process environment. The caller
// is expected to have loaded any .env file first (godotenv in main).
func FromEnv() (*Config, error) {
	cfg := &Config{
		MaxParallelAgents:       getEnvInt("MAX_PARALLEL_AGENTS", 3),
		MaxDepthCeiling:         5,
		AgentContextLimit:       getEnvInt("AGENT_CONTEXT_LIMIT", 2000),
		AgentHistoryLimit:       getEnvInt("AGENT_HISTORY_LIMIT", 4),
		HealthCheckInterval:     getEnvDuration("HEALTH_CHECK_INTERVAL", 60*time.Second),
		RequestTimeout:          getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		MaxRetries:              getEnvInt("MAX_RETRIES", 2),
		CircuitBreakerThreshold: getEnvInt("CIRCUIT_BREAKER_THRESHOLD", 5),
		CircuitBreakerTimeout:   getEnvDuration("CIRCUIT_BREAKER_TIMEOUT", 60*time.Second),
		CacheTTL:                getEnvDuration("CACHE_TTL", 300*time.Second),
		GatewayURL:              getEnv("MCP_GATEWAY_URL", "http://localhost:8000"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		SlackToken:              os.Getenv("SLACK_BOT_TOKEN"),
		SlackChannel:            os.Getenv("SLACK_CHANNEL"),
	}

	cfg.LLM = llmFromEnv()

	backends, err := backendsFromEnv()
	if err != nil {
		return nil, err
	}
	cfg.Backends = backends

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func llmFromEnv() LLMConfig {
	llm := LLMConfig{
		Provider:    getEnv("LLM_PROVIDER", ProviderOpenAI),
		Temperature: getEnvFloat32("LLM_TEMPERATURE", 0.7),
		Timeout:     getEnvDuration("LLM_TIMEOUT", 120*time.Second),
	}
	switch llm.Provider {
	case ProviderClaude:
		llm.Model = getEnv("CLAUDE_MODEL", "claude-sonnet-4-20250514")
		llm.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	case ProviderOllama:
		llm.Model = getEnv("OLLAMA_MODEL", "llama3.1")
		llm.BaseURL = getEnv("OLLAMA_BASE_URL", "http://localhost:11434/v1")
	default:
		llm.Model = getEnv("OPENAI_MODEL", "gpt-4o-mini")
		llm.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return llm
}

// backendsFromEnv collects the MCP_<NAME>_URL registrations and, when
// BACKENDS_FILE is set, merges the YAML entries on top (file wins on name
// collisions).
func backendsFromEnv() ([]BackendConfig, error) {
	var backends []BackendConfig
	timeout := getEnvDuration("REQUEST_TIMEOUT", 30*time.Second)

	for _, b := range builtinBackends {
		url := os.Getenv(b.envVar)
		if url == "" {
			continue
		}
		backends = append(backends, BackendConfig{
			Name:         b.name,
			URL:          url,
			Enabled:      true,
			Capabilities: b.capabilities,
			Timeout:      timeout,
		})
	}

	path := os.Getenv("BACKENDS_FILE")
	if path == "" {
		return backends, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read backends file %s: %w", path, err)
	}
	var file struct {
		Backends []BackendConfig `yaml:"backends"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse backends file %s: %w", path, err)
	}

	byName := make(map[string]int, len(backends))
	for i, b := range backends {
		byName[b.Name] = i
	}
	for _, b := range file.Backends {
		if b.Timeout == 0 {
			b.Timeout = timeout
		}
		if i, ok := byName[b.Name]; ok {
			backends[i] = b
			continue
		}
		byName[b.Name] = len(backends)
		backends = append(backends, b)
	}
	return backends, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvFloat32(key string, defaultValue float32) float32 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return defaultValue
	}
	return float32(f)
}

// getEnvDuration accepts either a Go duration string ("90s") or a bare
// number of seconds, matching how these knobs are usually set.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
