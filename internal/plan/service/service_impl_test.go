package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/creditledger/internal/clock"
	"github.com/smallbiznis/creditledger/internal/config"
	plandomain "github.com/smallbiznis/creditledger/internal/plan/domain"
	"github.com/smallbiznis/creditledger/internal/plan/repository"
	"github.com/smallbiznis/creditledger/internal/plan/service"
	"github.com/smallbiznis/creditledger/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newPlanService(t *testing.T, catalog config.CatalogConfig) plandomain.Service {
	t.Helper()
	db := dbtest.Open(t, &plandomain.Plan{})
	return service.NewService(service.Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   dbtest.Node(t),
		Clock:   clock.NewFakeClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)),
		Repo:    repository.Provide(),
		Catalog: config.NewStaticCatalogHolder(catalog),
	})
}

func TestSeedCreatesOneRowPerTier(t *testing.T) {
	catalog := config.DefaultCatalogConfig()
	catalog.Plans[1].PriceID = "price_basic"
	svc := newPlanService(t, catalog)
	ctx := context.Background()

	require.NoError(t, svc.Seed(ctx))
	require.NoError(t, svc.Seed(ctx))

	plans, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 4)

	free, err := svc.GetByTier(ctx, plandomain.TierFree)
	require.NoError(t, err)
	assert.False(t, free.Purchasable())
	assert.Equal(t, int64(20), free.Credits)
	assert.Equal(t, int64(10), free.CreditsPerMonth)

	basic, err := svc.GetBySlug(ctx, "basic")
	require.NoError(t, err)
	assert.Equal(t, "price_basic", basic.PriceIDValue())
	assert.Equal(t, int64(100), basic.CreditsPerMonth)

	_, err = svc.GetBySlug(ctx, "platinum")
	assert.ErrorIs(t, err, plandomain.ErrPlanNotFound)
}

func TestUpdatePlan(t *testing.T) {
	svc := newPlanService(t, config.DefaultCatalogConfig())
	ctx := context.Background()
	require.NoError(t, svc.Seed(ctx))

	// Warm the cache so the update has to invalidate it.
	_, err := svc.GetByTier(ctx, plandomain.TierPro)
	require.NoError(t, err)

	priceID := "price_pro_v2"
	perMonth := int64(600)
	updated, err := svc.Update(ctx, plandomain.TierPro, plandomain.UpdateRequest{
		PriceID:         &priceID,
		CreditsPerMonth: &perMonth,
	})
	require.NoError(t, err)
	assert.Equal(t, "price_pro_v2", updated.PriceIDValue())

	got, err := svc.GetByTier(ctx, plandomain.TierPro)
	require.NoError(t, err)
	assert.Equal(t, int64(600), got.CreditsPerMonth)
	assert.True(t, got.Purchasable())
}

func TestUpdatePlanRejectsInvalidEdits(t *testing.T) {
	svc := newPlanService(t, config.DefaultCatalogConfig())
	ctx := context.Background()
	require.NoError(t, svc.Seed(ctx))

	priceID := "price_free"
	_, err := svc.Update(ctx, plandomain.TierFree, plandomain.UpdateRequest{PriceID: &priceID})
	assert.ErrorIs(t, err, plandomain.ErrFreePlanPriceID)

	negative := int64(-1)
	_, err = svc.Update(ctx, plandomain.TierBasic, plandomain.UpdateRequest{Credits: &negative})
	assert.ErrorIs(t, err, plandomain.ErrInvalidAmount)

	_, err = svc.Update(ctx, plandomain.Tier("GOLD"), plandomain.UpdateRequest{})
	assert.ErrorIs(t, err, plandomain.ErrInvalidTier)
}
