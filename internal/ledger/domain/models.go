package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// CreditBalance is the spendable credit count of one account. It only changes
// through an atomic increment or a conditional decrement.
type CreditBalance struct {
	AccountID string    `gorm:"primaryKey;type:varchar(191)" json:"account_id"`
	Credits   int64     `gorm:"not null;default:0" json:"credits"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (CreditBalance) TableName() string { return "credit_balances" }

// CreditUsage is an append-only record of a successful deduction.
type CreditUsage struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id,string"`
	AccountID   string       `gorm:"type:varchar(191);not null;index:ix_credit_usages_account,priority:1" json:"account_id"`
	Action      string       `gorm:"type:varchar(64);not null" json:"action"`
	CreditsUsed int64        `gorm:"not null" json:"credits_used"`
	OccurredAt  time.Time    `gorm:"not null;index:ix_credit_usages_account,priority:2" json:"occurred_at"`
}

func (CreditUsage) TableName() string { return "credit_usages" }

type GrantSourceType string

const (
	SourceTypeCheckoutSession GrantSourceType = "checkout_session"
	SourceTypeInvoice         GrantSourceType = "invoice"
	SourceTypeSignup          GrantSourceType = "signup"
	SourceTypeAdmin           GrantSourceType = "admin"
)

// GrantSource identifies what a grant pays out for. A source is granted at most
// once per account.
type GrantSource struct {
	Type GrantSourceType
	ID   string
}

// CreditGrant journals every increment of a balance.
type CreditGrant struct {
	ID         snowflake.ID    `gorm:"primaryKey" json:"id,string"`
	AccountID  string          `gorm:"type:varchar(191);not null;uniqueIndex:ux_credit_grants_source,priority:1" json:"account_id"`
	Amount     int64           `gorm:"not null" json:"amount"`
	SourceType GrantSourceType `gorm:"type:varchar(32);not null;uniqueIndex:ux_credit_grants_source,priority:2" json:"source_type"`
	SourceID   string          `gorm:"type:varchar(191);not null;uniqueIndex:ux_credit_grants_source,priority:3" json:"source_id"`
	CreatedAt  time.Time       `gorm:"not null" json:"created_at"`
}

func (CreditGrant) TableName() string { return "credit_grants" }
