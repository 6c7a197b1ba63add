package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, plan *Plan) (bool, error)
	Save(ctx context.Context, db *gorm.DB, plan *Plan) error
	FindByTier(ctx context.Context, db *gorm.DB, tier Tier) (*Plan, error)
	FindBySlug(ctx context.Context, db *gorm.DB, slug string) (*Plan, error)
	FindByPriceID(ctx context.Context, db *gorm.DB, priceID string) (*Plan, error)
	List(ctx context.Context, db *gorm.DB) ([]Plan, error)
}

type Service interface {
	Seed(ctx context.Context) error
	List(ctx context.Context) ([]Plan, error)
	GetByTier(ctx context.Context, tier Tier) (*Plan, error)
	GetBySlug(ctx context.Context, slug string) (*Plan, error)
	Update(ctx context.Context, tier Tier, req UpdateRequest) (*Plan, error)
}

// UpdateRequest carries an administrative plan edit. Nil fields are left unchanged.
type UpdateRequest struct {
	Name            *string   `json:"name"`
	PriceID         *string   `json:"price_id"`
	Credits         *int64    `json:"credits"`
	CreditsPerMonth *int64    `json:"credits_per_month"`
	PriceAmount     *int64    `json:"price_amount"`
	Features        *[]string `json:"features"`
}

var (
	ErrInvalidTier     = errors.New("invalid_tier")
	ErrPlanNotFound    = errors.New("plan_not_found")
	ErrInvalidName     = errors.New("invalid_plan_name")
	ErrInvalidAmount   = errors.New("invalid_plan_amount")
	ErrFreePlanPriceID = errors.New("free_plan_cannot_have_price")
)
