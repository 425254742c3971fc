package llm

import (
	"fmt"

	"github.com/normanking/relay/internal/config"
)

// NewProviders builds the wired provider pair from configuration. Both
// are wrapped with metrics collection and registered globally, so usage
// reporting sees every call regardless of which surface made it.
func NewProviders(cfg *config.Config) (local, cloud Provider) {
	localProvider := NewMetricsProvider(NewLocalProvider(cfg.LLM.Local))
	RegisterMetricsProvider(localProvider)

	cloudProvider := NewMetricsProvider(NewOpenRouterProvider(cfg.LLM.OpenRouter))
	RegisterMetricsProvider(cloudProvider)

	return localProvider, cloudProvider
}

// NewProviderByName builds a single metrics-wrapped provider by its
// identifier.
func NewProviderByName(id ProviderID, cfg *config.Config) (Provider, error) {
	switch id {
	case ProviderLocal:
		provider := NewMetricsProvider(NewLocalProvider(cfg.LLM.Local))
		RegisterMetricsProvider(provider)
		return provider, nil
	case ProviderOpenRouter:
		provider := NewMetricsProvider(NewOpenRouterProvider(cfg.LLM.OpenRouter))
		RegisterMetricsProvider(provider)
		return provider, nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", id)
	}
}
