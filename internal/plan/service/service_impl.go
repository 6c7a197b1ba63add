package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/creditledger/internal/cache"
	"github.com/smallbiznis/creditledger/internal/clock"
	"github.com/smallbiznis/creditledger/internal/config"
	plandomain "github.com/smallbiznis/creditledger/internal/plan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const planTTL = 30 * time.Second

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    plandomain.Repository
	Catalog *config.CatalogHolder
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    plandomain.Repository
	catalog *config.CatalogHolder
	byTier  cache.Cache[plandomain.Tier, plandomain.Plan]
}

func NewService(p Params) plandomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("plan.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		catalog: p.Catalog,
		byTier:  cache.NewTTLCache[plandomain.Tier, plandomain.Plan](),
	}
}

// Seed makes sure every catalog tier has a row. Existing rows keep administrative
// edits; only a missing price id is filled in from the catalog.
func (s *Service) Seed(ctx context.Context) error {
	now := s.clock.Now()
	for _, cfg := range s.catalog.Get().Plans {
		tier, err := plandomain.ParseTier(cfg.Tier)
		if err != nil {
			s.log.Warn("skipping catalog plan with unknown tier", zap.String("tier", cfg.Tier))
			continue
		}

		plan := &plandomain.Plan{
			ID:              s.genID.Generate(),
			Tier:            tier,
			Name:            strings.TrimSpace(cfg.Name),
			Slug:            slug.Make(string(tier)),
			PriceID:         optionalString(cfg.PriceID),
			Credits:         cfg.Credits,
			CreditsPerMonth: cfg.CreditsPerMonth,
			PriceAmount:     cfg.Price,
			Features:        datatypes.JSONSlice[string](cfg.Features),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if plan.Name == "" {
			plan.Name = string(tier)
		}

		inserted, err := s.repo.Insert(ctx, s.db, plan)
		if err != nil {
			return err
		}
		if inserted {
			s.log.Info("seeded plan", zap.String("tier", string(tier)))
			continue
		}

		if plan.PriceID == nil {
			continue
		}
		existing, err := s.repo.FindByTier(ctx, s.db, tier)
		if err != nil {
			return err
		}
		if existing != nil && !existing.Purchasable() {
			existing.PriceID = plan.PriceID
			existing.UpdatedAt = now
			if err := s.repo.Save(ctx, s.db, existing); err != nil {
				return err
			}
			s.log.Info("filled plan price id from catalog", zap.String("tier", string(tier)))
		}
	}
	s.byTier.Purge()
	return nil
}

func (s *Service) List(ctx context.Context) ([]plandomain.Plan, error) {
	plans, err := s.repo.List(ctx, s.db)
	if err != nil {
		return nil, err
	}
	for _, p := range plans {
		s.byTier.Set(p.Tier, p, planTTL)
	}
	return plans, nil
}

func (s *Service) GetByTier(ctx context.Context, tier plandomain.Tier) (*plandomain.Plan, error) {
	tier, err := plandomain.ParseTier(string(tier))
	if err != nil {
		return nil, err
	}
	if cached, ok := s.byTier.Get(tier); ok {
		return &cached, nil
	}
	plan, err := s.repo.FindByTier(ctx, s.db, tier)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, plandomain.ErrPlanNotFound
	}
	s.byTier.Set(tier, *plan, planTTL)
	return plan, nil
}

func (s *Service) GetBySlug(ctx context.Context, value string) (*plandomain.Plan, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, plandomain.ErrPlanNotFound
	}
	plan, err := s.repo.FindBySlug(ctx, s.db, value)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, plandomain.ErrPlanNotFound
	}
	return plan, nil
}

func (s *Service) Update(ctx context.Context, tier plandomain.Tier, req plandomain.UpdateRequest) (*plandomain.Plan, error) {
	tier, err := plandomain.ParseTier(string(tier))
	if err != nil {
		return nil, err
	}

	var updated *plandomain.Plan
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := s.repo.FindByTier(ctx, tx, tier)
		if err != nil {
			return err
		}
		if plan == nil {
			return plandomain.ErrPlanNotFound
		}
		if err := applyUpdate(plan, req); err != nil {
			return err
		}
		plan.UpdatedAt = s.clock.Now()
		if err := s.repo.Save(ctx, tx, plan); err != nil {
			return err
		}
		updated = plan
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.byTier.Delete(tier)
	s.log.Info("plan updated", zap.String("tier", string(tier)))
	return updated, nil
}

func applyUpdate(plan *plandomain.Plan, req plandomain.UpdateRequest) error {
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return plandomain.ErrInvalidName
		}
		plan.Name = name
	}
	if req.PriceID != nil {
		if plan.Tier == plandomain.TierFree && strings.TrimSpace(*req.PriceID) != "" {
			return plandomain.ErrFreePlanPriceID
		}
		plan.PriceID = optionalString(*req.PriceID)
	}
	for _, v := range []*int64{req.Credits, req.CreditsPerMonth, req.PriceAmount} {
		if v != nil && *v < 0 {
			return plandomain.ErrInvalidAmount
		}
	}
	if req.Credits != nil {
		plan.Credits = *req.Credits
	}
	if req.CreditsPerMonth != nil {
		plan.CreditsPerMonth = *req.CreditsPerMonth
	}
	if req.PriceAmount != nil {
		plan.PriceAmount = *req.PriceAmount
	}
	if req.Features != nil {
		plan.Features = datatypes.JSONSlice[string](*req.Features)
	}
	return nil
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
