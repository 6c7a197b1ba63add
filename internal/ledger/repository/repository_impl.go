package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	ledgerdomain "github.com/smallbiznis/creditledger/internal/ledger/domain"
	"github.com/smallbiznis/creditledger/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

func (r *repo) FindBalance(ctx context.Context, db *gorm.DB, accountID string) (*ledgerdomain.CreditBalance, error) {
	var balance ledgerdomain.CreditBalance
	err := db.WithContext(ctx).Where("account_id = ?", accountID).Take(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *repo) InsertBalance(ctx context.Context, db *gorm.DB, balance *ledgerdomain.CreditBalance) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "account_id"}}, DoNothing: true}).
		Create(balance)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// IncrementBalance adds amount, creating the balance row when it does not exist yet.
func (r *repo) IncrementBalance(ctx context.Context, db *gorm.DB, accountID string, amount int64, at time.Time) error {
	row := ledgerdomain.CreditBalance{
		AccountID: accountID,
		Credits:   amount,
		CreatedAt: at,
		UpdatedAt: at,
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "account_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"credits":    gorm.Expr("credit_balances.credits + ?", amount),
				"updated_at": at,
			}),
		}).
		Create(&row).Error
}

// DecrementBalanceIfSufficient subtracts amount only when the balance covers it.
// Check and decrement are a single statement.
func (r *repo) DecrementBalanceIfSufficient(ctx context.Context, db *gorm.DB, accountID string, amount int64, at time.Time) (bool, error) {
	result := db.WithContext(ctx).
		Model(&ledgerdomain.CreditBalance{}).
		Where("account_id = ? AND credits >= ?", accountID, amount).
		Updates(map[string]any{
			"credits":    gorm.Expr("credits - ?", amount),
			"updated_at": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) InsertUsage(ctx context.Context, db *gorm.DB, usage *ledgerdomain.CreditUsage) error {
	return db.WithContext(ctx).Create(usage).Error
}

// InsertGrant journals grant unless the account already received its source.
func (r *repo) InsertGrant(ctx context.Context, db *gorm.DB, grant *ledgerdomain.CreditGrant) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "source_type"}, {Name: "source_id"}},
			DoNothing: true,
		}).
		Create(grant)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListUsage returns newest first, limit+1 rows so the caller can detect another page.
func (r *repo) ListUsage(ctx context.Context, db *gorm.DB, accountID string, cursor *pagination.Cursor, limit int) ([]ledgerdomain.CreditUsage, error) {
	query := db.WithContext(ctx).Where("account_id = ?", accountID)
	if cursor != nil && cursor.ID != "" {
		id, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return nil, pagination.ErrInvalidPageToken
		}
		query = query.Where("id < ?", id)
	}

	var usages []ledgerdomain.CreditUsage
	if err := query.Order("id DESC").Limit(limit + 1).Find(&usages).Error; err != nil {
		return nil, err
	}
	return usages, nil
}
