package classifier

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/cairn/internal/config"
)

const (
	// ProviderEnvVar selects the default classifier provider.
	ProviderEnvVar = "CLASSIFIER_PROVIDER"
	// DefaultProviderName is used when CLASSIFIER_PROVIDER is unset.
	DefaultProviderName = "openai"
	// DisabledProviderName always reports ErrUnavailable.
	DisabledProviderName = "disabled"
)

// Registry stores classifier providers and resolves a default provider.
type Registry struct {
	providers       map[string]Provider
	defaultProvider string
}

func NewRegistry(defaultProvider string) *Registry {
	normalizedDefault := normalizeProviderName(defaultProvider)
	if normalizedDefault == "" {
		normalizedDefault = DefaultProviderName
	}

	return &Registry{
		providers:       make(map[string]Provider),
		defaultProvider: normalizedDefault,
	}
}

// NewRegistryFromConfig builds the registry used by the resolver and the
// fusion engine. Without an API key only the disabled provider is
// registered and every batch degrades to deterministic keying.
func NewRegistryFromConfig(cfg *config.Config, budget *CallBudget, logger zerolog.Logger) *Registry {
	registry := NewRegistry(os.Getenv(ProviderEnvVar))
	_ = registry.Register(disabledProvider{})

	if cfg != nil && strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		provider, err := NewOpenAIProvider(OpenAIConfig{
			APIKey:      cfg.OpenAIAPIKey,
			Model:       cfg.ClassifierModel,
			FusionModel: cfg.FusionModel,
			Timeout:     cfg.ClassifierTimeout,
		}, budget, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("openai classifier provider not registered")
		} else {
			_ = registry.Register(provider)
		}
	}

	if _, exists := registry.providers[registry.defaultProvider]; !exists {
		registry.defaultProvider = DisabledProviderName
	}

	return registry
}

// Register adds one provider.
func (r *Registry) Register(provider Provider) error {
	if r == nil {
		return fmt.Errorf("registry is nil")
	}
	if provider == nil {
		return fmt.Errorf("provider is nil")
	}
	name := normalizeProviderName(provider.Name())
	if name == "" {
		return fmt.Errorf("provider name is required")
	}
	r.providers[name] = provider
	return nil
}

// Provider resolves a provider by name. Empty names use the configured
// default provider.
func (r *Registry) Provider(name string) (Provider, error) {
	if r == nil {
		return nil, fmt.Errorf("registry is nil")
	}
	if len(r.providers) == 0 {
		return nil, fmt.Errorf("no classifier providers are registered")
	}

	resolvedName := normalizeProviderName(name)
	if resolvedName == "" {
		resolvedName = r.defaultProvider
	}

	provider, exists := r.providers[resolvedName]
	if !exists {
		return nil, fmt.Errorf("unknown classifier provider %q (available: %s)", resolvedName, strings.Join(r.Names(), ", "))
	}
	return provider, nil
}

// Names lists registered provider names, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeProviderName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// disabledProvider is registered when no real provider is configured.
type disabledProvider struct{}

func (disabledProvider) Name() string { return DisabledProviderName }

func (disabledProvider) Classify(_ context.Context, _ Request) (*Response, error) {
	return nil, fmt.Errorf("no classifier configured: %w", ErrUnavailable)
}
