package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/creditledger/internal/plan/domain"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusPastDue   Status = "PAST_DUE"
	StatusCancelled Status = "CANCELLED"
	StatusInactive  Status = "INACTIVE"
)

// StatusFromProvider maps a provider subscription status onto the local status set.
func StatusFromProvider(status string) Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "canceled", "cancelled":
		return StatusCancelled
	case "past_due":
		return StatusPastDue
	case "unpaid", "incomplete":
		return StatusInactive
	default:
		return StatusActive
	}
}

// Subscription is the local mirror of an account's provider subscription.
// Rows are never deleted; a cancelled subscription falls back to FREE.
type Subscription struct {
	ID                     snowflake.ID    `gorm:"primaryKey" json:"id,string"`
	AccountID              string          `gorm:"type:varchar(191);not null;uniqueIndex" json:"account_id"`
	Tier                   plandomain.Tier `gorm:"type:varchar(32);not null" json:"tier"`
	Status                 Status          `gorm:"type:varchar(32);not null" json:"status"`
	ExternalCustomerID     *string         `gorm:"type:varchar(191);uniqueIndex" json:"external_customer_id,omitempty"`
	ExternalSubscriptionID *string         `gorm:"type:varchar(191);index" json:"external_subscription_id,omitempty"`
	ExternalPriceID        *string         `gorm:"type:varchar(191)" json:"external_price_id,omitempty"`
	CurrentPeriodStart     *time.Time      `json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time      `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool            `gorm:"not null;default:false" json:"cancel_at_period_end"`
	CreditsPerMonth        int64           `gorm:"not null;default:0" json:"credits_per_month"`
	CreatedAt              time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt              time.Time       `gorm:"not null" json:"updated_at"`
}

func (Subscription) TableName() string { return "subscriptions" }

// CustomerID returns the provider customer id or "".
func (s Subscription) CustomerID() string { return deref(s.ExternalCustomerID) }

// RemoteID returns the provider subscription id or "".
func (s Subscription) RemoteID() string { return deref(s.ExternalSubscriptionID) }

// Default is the view of an account that never subscribed.
func Default(accountID string, free plandomain.Plan) Subscription {
	return Subscription{
		AccountID:       accountID,
		Tier:            plandomain.TierFree,
		Status:          StatusInactive,
		CreditsPerMonth: free.CreditsPerMonth,
	}
}

// StringPtr returns nil for blank values.
func StringPtr(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
