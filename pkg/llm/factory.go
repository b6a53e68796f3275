package llm

import (
	"fmt"

	"github.com/polyphonic-ai/maestro/pkg/config"
)

// New constructs the client for the configured provider.
func New(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: OPENAI_API_KEY is not set", ErrLLM)
		}
		return newOpenAIClient(cfg), nil
	case config.ProviderOllama:
		// Ollama speaks the OpenAI chat API; no key required.
		return newOpenAIClient(cfg), nil
	case config.ProviderClaude:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: ANTHROPIC_API_KEY is not set", ErrLLM)
		}
		return newAnthropicClient(cfg), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrLLM, cfg.Provider)
	}
}
