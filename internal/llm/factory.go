package llm

import (
	"context"
	"fmt"
	"time"
)

// Provider identifies a supported model backend.
type Provider string

const (
	ProviderOpenRouter Provider = "openrouter"
	ProviderAnthropic  Provider = "anthropic"
	ProviderGemini     Provider = "gemini"
)

// ValidProviders lists all supported providers.
var ValidProviders = []Provider{ProviderOpenRouter, ProviderAnthropic, ProviderGemini}

// Options configures the factory.
type Options struct {
	Provider Provider
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration
}

// New builds a Client for the given provider.
func New(ctx context.Context, opts Options) (Client, error) {
	switch opts.Provider {
	case ProviderOpenRouter, "":
		config := DefaultOpenRouterConfig(opts.APIKey)
		if opts.Model != "" {
			config.Model = opts.Model
		}
		if opts.BaseURL != "" {
			config.BaseURL = opts.BaseURL
		}
		if opts.Timeout > 0 {
			config.Timeout = opts.Timeout
		}
		return NewOpenRouterClientWithConfig(config), nil

	case ProviderAnthropic:
		config := DefaultAnthropicConfig(opts.APIKey)
		if opts.Model != "" {
			config.Model = opts.Model
		}
		if opts.BaseURL != "" {
			config.BaseURL = opts.BaseURL
		}
		if opts.Timeout > 0 {
			config.Timeout = opts.Timeout
		}
		return NewAnthropicClientWithConfig(config), nil

	case ProviderGemini:
		return NewGeminiClient(ctx, opts.APIKey, opts.Model)

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (valid: %v)", opts.Provider, ValidProviders)
	}
}
