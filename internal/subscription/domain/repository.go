package domain

import (
	"context"

	"gorm.io/gorm"
)

// Repository lookups return (nil, nil) when no row matches. forUpdate locks the
// row for the rest of the transaction on dialects that support it.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	Save(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByAccountID(ctx context.Context, db *gorm.DB, accountID string, forUpdate bool) (*Subscription, error)
	FindByCustomerID(ctx context.Context, db *gorm.DB, customerID string, forUpdate bool) (*Subscription, error)
}
