package ai

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// LLMProvider sends a prompt to an LLM and returns the raw text response.
// Used only by LLMClassifier; the rest of the system sees model.Classifier.
type LLMProvider interface {
	Name() string
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// ProviderConfig selects and configures one provider.
type ProviderConfig struct {
	Provider    string // "openai", "anthropic" or "gemini"
	Model       string
	APIKey      string
	BaseURL     string // optional override, used by tests and compatible gateways
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// NewProvider returns the provider named by cfg.Provider.
func NewProvider(ctx context.Context, cfg ProviderConfig, httpClient *http.Client) (LLMProvider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg, httpClient), nil
	case "anthropic":
		return NewAnthropicProvider(cfg, httpClient), nil
	case "gemini":
		return NewGeminiProvider(ctx, cfg, httpClient)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func maxTokens(cfg ProviderConfig) int64 {
	if cfg.MaxTokens > 0 {
		return int64(cfg.MaxTokens)
	}
	return 512
}
