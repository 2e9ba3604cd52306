package company

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/GoCodeAlone/guild/config"
	"github.com/GoCodeAlone/guild/provider"
	"github.com/GoCodeAlone/guild/provider/mock"
)

// ProviderFactory creates a provider.Provider from an API key and config.
type ProviderFactory func(apiKey string, cfg config.ProviderConfig) (provider.Provider, error)

var factories = map[string]ProviderFactory{
	"mock":      mockProviderFactory,
	"anthropic": anthropicProviderFactory,
}

// NewProvider builds the configured reasoning provider and wraps it in
// the retry policy. The API key is read from cfg.APIKeyEnv.
func NewProvider(cfg config.ProviderConfig, logger *slog.Logger) (provider.Provider, error) {
	factory, ok := factories[cfg.Name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
	var apiKey string
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	p, err := factory(apiKey, cfg)
	if err != nil {
		return nil, fmt.Errorf("create provider %s: %w", cfg.Name, err)
	}
	return provider.WithRetry(p, provider.RetryConfig{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.InitialBackoff,
		Logger:          logger,
	}), nil
}

func mockProviderFactory(_ string, cfg config.ProviderConfig) (provider.Provider, error) {
	return mock.New(cfg.Script...), nil
}

func anthropicProviderFactory(apiKey string, cfg config.ProviderConfig) (provider.Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("no API key: set %s", cfg.APIKeyEnv)
	}
	return provider.NewAnthropicProvider(provider.AnthropicConfig{
		APIKey:  apiKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
	}), nil
}
