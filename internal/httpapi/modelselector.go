package httpapi

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/nexusgw/gateway/internal/providers"
	"github.com/nexusgw/gateway/internal/registry"
)

// AdapterResolver builds (or returns a cached) ProviderAdapter for a vendor
// API model name. Implementations are expected to cache per
// (provider, apiName) per spec.md §5's adapter-reuse rule.
type AdapterResolver interface {
	Resolve(provider, apiName string) (providers.ProviderAdapter, error)
}

// Selection names the process-wide active (provider, friendly model) pair.
type Selection struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// ModelSelector holds the gateway's single active model selection and
// implements the validate-then-swap semantics POST /switch-model needs:
// the new adapter is connectivity-tested before the swap is committed, and
// a failed test leaves the previous selection in place.
type ModelSelector struct {
	registry *registry.Registry
	adapters AdapterResolver
	cur      atomic.Pointer[Selection]
}

// NewModelSelector builds a selector pinned to the given initial selection.
func NewModelSelector(reg *registry.Registry, adapters AdapterResolver, initial Selection) *ModelSelector {
	s := &ModelSelector{registry: reg, adapters: adapters}
	s.cur.Store(&initial)
	return s
}

// Current returns the active selection.
func (s *ModelSelector) Current() Selection {
	return *s.cur.Load()
}

// Adapter resolves the active selection to its registry entry and adapter.
func (s *ModelSelector) Adapter() (providers.ProviderAdapter, registry.Resolved, error) {
	sel := s.Current()
	resolved, err := s.registry.Resolve(sel.Provider, sel.Model)
	if err != nil {
		return nil, registry.Resolved{}, err
	}
	adapter, err := s.adapters.Resolve(sel.Provider, resolved.APIName)
	if err != nil {
		return nil, registry.Resolved{}, err
	}
	return adapter, resolved, nil
}

// Switch resolves and connectivity-tests the requested (provider, model)
// pair before committing it as the new active selection. On any failure
// the active selection is left unchanged.
func (s *ModelSelector) Switch(ctx context.Context, provider, model string) (registry.Resolved, error) {
	resolved, err := s.registry.Resolve(provider, model)
	if err != nil {
		return registry.Resolved{}, fmt.Errorf("switch-model: %w", err)
	}
	adapter, err := s.adapters.Resolve(provider, resolved.APIName)
	if err != nil {
		return registry.Resolved{}, fmt.Errorf("switch-model: build adapter: %w", err)
	}

	result := adapter.Test(ctx)
	if !result.OK {
		return registry.Resolved{}, fmt.Errorf("switch-model: connectivity test failed for %s/%s", provider, model)
	}

	s.cur.Store(&Selection{Provider: provider, Model: model})
	return resolved, nil
}
