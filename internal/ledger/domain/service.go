package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/creditledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	FindBalance(ctx context.Context, db *gorm.DB, accountID string) (*CreditBalance, error)
	InsertBalance(ctx context.Context, db *gorm.DB, balance *CreditBalance) (bool, error)
	IncrementBalance(ctx context.Context, db *gorm.DB, accountID string, amount int64, at time.Time) error
	DecrementBalanceIfSufficient(ctx context.Context, db *gorm.DB, accountID string, amount int64, at time.Time) (bool, error)
	InsertUsage(ctx context.Context, db *gorm.DB, usage *CreditUsage) error
	InsertGrant(ctx context.Context, db *gorm.DB, grant *CreditGrant) (bool, error)
	ListUsage(ctx context.Context, db *gorm.DB, accountID string, cursor *pagination.Cursor, limit int) ([]CreditUsage, error)
}

// Granter credits an account inside a caller-owned transaction.
type Granter interface {
	GrantTx(ctx context.Context, tx *gorm.DB, accountID string, amount int64, source GrantSource) (bool, error)
}

// Service is the only way balances change.
type Service interface {
	Granter

	HasSufficientCredits(ctx context.Context, accountID, action string) (bool, error)
	Deduct(ctx context.Context, accountID, action string) (*CreditUsage, error)
	Grant(ctx context.Context, accountID string, amount int64, source GrantSource) (bool, error)
	Balance(ctx context.Context, accountID string) (*CreditBalance, error)
	OpenAccount(ctx context.Context, accountID string) (*CreditBalance, error)
	ListUsage(ctx context.Context, accountID string, page pagination.Pagination) ([]CreditUsage, pagination.PageInfo, error)
}

var (
	ErrInvalidAccount      = errors.New("invalid_account")
	ErrAccountNotFound     = errors.New("account_not_found")
	ErrInsufficientCredits = errors.New("insufficient_credits")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrUnknownAction       = errors.New("unknown_action")
	ErrInvalidGrantSource  = errors.New("invalid_grant_source")
)
