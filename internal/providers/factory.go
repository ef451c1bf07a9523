package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/nexusgw/gateway/internal/config"
	"github.com/nexusgw/gateway/internal/registry"
	"github.com/nexusgw/gateway/pkg/models"
)

// Factory builds and caches ProviderAdapter instances per (provider,
// apiName), implementing httpapi.AdapterResolver. Adapters are reused
// across requests per SPEC_FULL.md §5's adapter-reuse rule.
type Factory struct {
	creds    config.ProvidersConfig
	registry *registry.Registry

	mu    sync.Mutex
	cache map[string]ProviderAdapter
}

// NewFactory builds a Factory over the given vendor credentials and model
// registry.
func NewFactory(creds config.ProvidersConfig, reg *registry.Registry) *Factory {
	return &Factory{creds: creds, registry: reg, cache: map[string]ProviderAdapter{}}
}

// Resolve builds (or returns a cached) adapter for the given (provider,
// apiName) pair, looking up its capabilities from the registry.
func (f *Factory) Resolve(provider, apiName string) (ProviderAdapter, error) {
	key := provider + "/" + apiName

	f.mu.Lock()
	if a, ok := f.cache[key]; ok {
		f.mu.Unlock()
		return a, nil
	}
	f.mu.Unlock()

	friendly, ok := f.registry.FriendlyOf(provider, apiName)
	if !ok {
		return nil, fmt.Errorf("providers: unknown api model %s/%s", provider, apiName)
	}
	resolved, err := f.registry.Resolve(provider, friendly)
	if err != nil {
		return nil, err
	}

	adapter, err := f.build(provider, apiName, resolved.Capabilities)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.cache[key] = adapter
	f.mu.Unlock()
	return adapter, nil
}

// build constructs a fresh adapter for provider using its configured
// credentials, the resolved apiName, and the registry's capability set.
func (f *Factory) build(provider, apiName string, caps models.Capabilities) (ProviderAdapter, error) {
	switch provider {
	case "anthropic":
		return NewAnthropicAdapter(AnthropicConfig{
			APIKey:  f.creds.Anthropic.APIKey,
			BaseURL: f.creds.Anthropic.BaseURL,
			Model:   apiName,
			Caps:    caps,
		}), nil
	case "openai":
		return NewOpenAIAdapter(OpenAIConfig{
			APIKey:     f.creds.OpenAI.APIKey,
			BaseURL:    f.creds.OpenAI.BaseURL,
			APIVersion: f.creds.OpenAI.APIVersion,
			Model:      apiName,
			Caps:       caps,
		}), nil
	case "azure":
		return NewOpenAIAdapter(OpenAIConfig{
			APIKey:     f.creds.Azure.APIKey,
			BaseURL:    f.creds.Azure.BaseURL,
			APIVersion: f.creds.Azure.APIVersion,
			Model:      apiName,
			Caps:       caps,
		}), nil
	case "google":
		return NewGoogleAdapter(context.Background(), GoogleConfig{
			APIKey: f.creds.Google.APIKey,
			Model:  apiName,
			Caps:   caps,
		})
	case "bedrock":
		return NewBedrockAdapter(context.Background(), BedrockConfig{
			Region:          f.creds.Bedrock.Region,
			AccessKeyID:     f.creds.Bedrock.AccessKeyID,
			SecretAccessKey: f.creds.Bedrock.SecretAccessKey,
			SessionToken:    f.creds.Bedrock.SessionToken,
			Model:           apiName,
			Caps:            caps,
		})
	case "ollama":
		return NewOllamaAdapter(OllamaConfig{
			BaseURL: f.creds.Ollama.BaseURL,
			Model:   apiName,
			Caps:    caps,
		}), nil
	default:
		return nil, fmt.Errorf("providers: unknown provider %q", provider)
	}
}
