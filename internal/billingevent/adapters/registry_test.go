package adapters

import (
	"context"
	"net/http"
	"testing"

	billingeventdomain "github.com/smallbiznis/creditledger/internal/billingevent/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFactory struct{}

func (stubFactory) Provider() string { return " Stub " }

func (stubFactory) NewAdapter(cfg billingeventdomain.AdapterConfig) (billingeventdomain.Adapter, error) {
	if cfg.WebhookSecret == "" {
		return nil, billingeventdomain.ErrInvalidConfig
	}
	return stubAdapter{}, nil
}

type stubAdapter struct{}

func (stubAdapter) Verify(context.Context, []byte, http.Header) error { return nil }

func (stubAdapter) Parse(context.Context, []byte) (*billingeventdomain.Envelope, error) {
	return &billingeventdomain.Envelope{}, nil
}

func TestRegistryResolvesConfiguredAdapter(t *testing.T) {
	registry := NewRegistry(stubFactory{}, nil)

	assert.True(t, registry.ProviderExists("STUB"))
	assert.False(t, registry.ProviderExists("paypal"))

	_, err := registry.Adapter("stub")
	assert.ErrorIs(t, err, billingeventdomain.ErrInvalidConfig)

	registry.Configure("stub", billingeventdomain.AdapterConfig{WebhookSecret: "whsec"})
	adapter, err := registry.Adapter("stub")
	require.NoError(t, err)
	assert.NotNil(t, adapter)

	_, err = registry.Adapter("paypal")
	assert.ErrorIs(t, err, billingeventdomain.ErrProviderNotFound)

	var nilRegistry *Registry
	_, err = nilRegistry.Adapter("stub")
	assert.ErrorIs(t, err, billingeventdomain.ErrProviderNotFound)
}
