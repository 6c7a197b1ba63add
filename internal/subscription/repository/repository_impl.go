package repository

import (
	"context"
	"errors"
	"strings"

	subscriptiondomain "github.com/smallbiznis/creditledger/internal/subscription/domain"
	pkgdb "github.com/smallbiznis/creditledger/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Create(subscription).Error
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Save(subscription).Error
}

func (r *repo) FindByAccountID(ctx context.Context, db *gorm.DB, accountID string, forUpdate bool) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db, forUpdate, "account_id = ?", strings.TrimSpace(accountID))
}

func (r *repo) FindByCustomerID(ctx context.Context, db *gorm.DB, customerID string, forUpdate bool) (*subscriptiondomain.Subscription, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, nil
	}
	return r.findOne(ctx, db, forUpdate, "external_customer_id = ?", customerID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, forUpdate bool, query string, args ...any) (*subscriptiondomain.Subscription, error) {
	q := db.WithContext(ctx)
	if forUpdate && pkgdb.SupportsRowLocking(db) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var subscription subscriptiondomain.Subscription
	err := q.Where(query, args...).Take(&subscription).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &subscription, nil
}
