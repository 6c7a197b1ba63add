package adapters

import (
	"strings"

	billingeventdomain "github.com/smallbiznis/creditledger/internal/billingevent/domain"
)

type Registry struct {
	factories map[string]billingeventdomain.AdapterFactory
	configs   map[string]billingeventdomain.AdapterConfig
}

func NewRegistry(factories ...billingeventdomain.AdapterFactory) *Registry {
	registry := &Registry{
		factories: map[string]billingeventdomain.AdapterFactory{},
		configs:   map[string]billingeventdomain.AdapterConfig{},
	}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := normalize(factory.Provider())
		if provider == "" {
			continue
		}
		registry.factories[provider] = factory
	}
	return registry
}

// Configure sets the adapter config used by Adapter for a provider.
func (r *Registry) Configure(provider string, cfg billingeventdomain.AdapterConfig) *Registry {
	r.configs[normalize(provider)] = cfg
	return r
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[normalize(provider)]
	return ok
}

func (r *Registry) NewAdapter(provider string, cfg billingeventdomain.AdapterConfig) (billingeventdomain.Adapter, error) {
	if r == nil {
		return nil, billingeventdomain.ErrProviderNotFound
	}
	factory, ok := r.factories[normalize(provider)]
	if !ok {
		return nil, billingeventdomain.ErrProviderNotFound
	}
	return factory.NewAdapter(cfg)
}

// Adapter builds the provider adapter from its configured settings.
func (r *Registry) Adapter(provider string) (billingeventdomain.Adapter, error) {
	if r == nil {
		return nil, billingeventdomain.ErrProviderNotFound
	}
	return r.NewAdapter(provider, r.configs[normalize(provider)])
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
