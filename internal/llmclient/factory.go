// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/focusgroup/api/schemas"
	"github.com/xkilldash9x/focusgroup/internal/config"
)

// NewClient creates an LLMClient for a single model configuration.
func NewClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = config.ProviderGemini
	}

	switch provider {
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", provider, config.ProviderGemini)
	}
}

// NewRouterFromConfig builds the fast and powerful clients and wraps them in a router.
func NewRouterFromConfig(ctx context.Context, cfg config.LLMRouterConfig, logger *zap.Logger) (*LLMRouter, error) {
	fast, err := NewClient(ctx, ResolveModel(cfg, cfg.DefaultFastModel), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create fast tier client: %w", err)
	}
	powerful, err := NewClient(ctx, ResolveModel(cfg, cfg.DefaultPowerfulModel), logger)
	if err != nil {
		_ = fast.Close()
		return nil, fmt.Errorf("failed to create powerful tier client: %w", err)
	}
	return NewLLMRouter(logger, fast, powerful)
}

// ResolveModel finds the model configuration named by alias or model name,
// falling back to a Gemini model that uses the shared router settings.
func ResolveModel(cfg config.LLMRouterConfig, name string) config.LLMModelConfig {
	if m, ok := cfg.Models[name]; ok {
		return withRouterDefaults(cfg, m)
	}
	for _, m := range cfg.Models {
		if m.Model == name {
			return withRouterDefaults(cfg, m)
		}
	}
	return withRouterDefaults(cfg, config.LLMModelConfig{Provider: config.ProviderGemini, Model: name})
}

func withRouterDefaults(cfg config.LLMRouterConfig, m config.LLMModelConfig) config.LLMModelConfig {
	if m.APIKey == "" {
		m.APIKey = cfg.APIKey
	}
	if m.APITimeout == 0 {
		m.APITimeout = cfg.APITimeout
	}
	if m.Temperature == 0 {
		m.Temperature = cfg.Temperature
	}
	return m
}
