package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPaid   Status = "PAID"
	StatusFailed Status = "FAILED"
)

const DefaultCurrency = "usd"

// Payment audits one provider invoice outcome. The invoice id is unique.
type Payment struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id,string"`
	ExternalInvoiceID string       `gorm:"type:varchar(191);not null;uniqueIndex" json:"external_invoice_id"`
	AccountID         string       `gorm:"type:varchar(191);not null;index" json:"account_id"`
	Amount            int64        `gorm:"not null" json:"amount"`
	Currency          string       `gorm:"type:varchar(8);not null" json:"currency"`
	Status            Status       `gorm:"type:varchar(16);not null" json:"status"`
	RecordedAt        time.Time    `gorm:"not null" json:"recorded_at"`
}

func (Payment) TableName() string { return "payments" }

type Repository interface {
	// InsertIfAbsent reports false when the invoice id is already recorded.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, payment *Payment) (bool, error)
	FindByInvoiceID(ctx context.Context, db *gorm.DB, invoiceID string) (*Payment, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter, cursor *pagination.Cursor, limit int) ([]Payment, error)
}

type ListFilter struct {
	AccountID string
	Status    Status
}

type Service interface {
	ListAll(ctx context.Context, filter ListFilter, page pagination.Pagination) ([]Payment, pagination.PageInfo, error)
	ListByAccount(ctx context.Context, accountID string, page pagination.Pagination) ([]Payment, pagination.PageInfo, error)
	Receipt(ctx context.Context, accountID, invoiceID string) ([]byte, error)
}

var (
	ErrInvalidAccount  = errors.New("invalid_account")
	ErrPaymentNotFound = errors.New("payment_not_found")
	ErrPaymentNotPaid  = errors.New("payment_not_paid")
	ErrInvalidStatus   = errors.New("invalid_payment_status")
)
