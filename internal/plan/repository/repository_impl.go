package repository

import (
	"context"
	"errors"
	"strings"

	plandomain "github.com/smallbiznis/creditledger/internal/plan/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() plandomain.Repository {
	return &repo{}
}

// Insert creates plan unless its tier already exists; it reports whether a row was written.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, plan *plandomain.Plan) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "tier"}}, DoNothing: true}).
		Create(plan)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, plan *plandomain.Plan) error {
	return db.WithContext(ctx).Save(plan).Error
}

func (r *repo) FindByTier(ctx context.Context, db *gorm.DB, tier plandomain.Tier) (*plandomain.Plan, error) {
	return r.findOne(ctx, db, "tier = ?", string(tier))
}

func (r *repo) FindBySlug(ctx context.Context, db *gorm.DB, slug string) (*plandomain.Plan, error) {
	return r.findOne(ctx, db, "slug = ?", strings.ToLower(strings.TrimSpace(slug)))
}

func (r *repo) FindByPriceID(ctx context.Context, db *gorm.DB, priceID string) (*plandomain.Plan, error) {
	return r.findOne(ctx, db, "price_id = ?", strings.TrimSpace(priceID))
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]plandomain.Plan, error) {
	var plans []plandomain.Plan
	if err := db.WithContext(ctx).Order("price_amount ASC, id ASC").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*plandomain.Plan, error) {
	var plan plandomain.Plan
	err := db.WithContext(ctx).Where(query, args...).Take(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}
