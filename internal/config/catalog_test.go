package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogIsValid(t *testing.T) {
	cfg := normalizeCatalog(DefaultCatalogConfig())
	require.NoError(t, validateCatalog(cfg))

	holder := NewStaticCatalogHolder(cfg)
	cost, ok := holder.Cost("video_generation")
	assert.True(t, ok)
	assert.Equal(t, int64(10), cost)

	_, ok = holder.Cost("unknown")
	assert.False(t, ok)
}

func TestNormalizeCatalogAppliesPriceOverride(t *testing.T) {
	t.Setenv("STRIPE_PRICE_PRO", "price_pro_env")

	cfg := normalizeCatalog(CatalogConfig{
		Plans: []PlanConfig{
			{Tier: "free"},
			{Tier: " pro ", PriceID: "price_file"},
		},
		CreditCosts: map[string]int64{"generate_title": 1},
	})

	require.Len(t, cfg.Plans, 2)
	assert.Equal(t, "FREE", cfg.Plans[0].Tier)
	assert.Equal(t, "PRO", cfg.Plans[1].Tier)
	assert.Equal(t, "price_pro_env", cfg.Plans[1].PriceID)
	assert.Equal(t, int64(1), cfg.CreditCosts["GENERATE_TITLE"])
}

func TestValidateCatalogRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  CatalogConfig
	}{
		{name: "empty", cfg: CatalogConfig{}},
		{name: "missing free", cfg: CatalogConfig{Plans: []PlanConfig{{Tier: "PRO"}}}},
		{name: "duplicate tier", cfg: CatalogConfig{Plans: []PlanConfig{{Tier: "FREE"}, {Tier: "FREE"}}}},
		{name: "priced free", cfg: CatalogConfig{Plans: []PlanConfig{{Tier: "FREE", PriceID: "price_x"}}}},
		{name: "zero cost", cfg: CatalogConfig{
			Plans:       []PlanConfig{{Tier: "FREE"}},
			CreditCosts: map[string]int64{"X": 0},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validateCatalog(tt.cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
