package domain

import (
	"context"
	"errors"
	"time"

	plandomain "github.com/smallbiznis/creditledger/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/creditledger/internal/subscription/domain"
)

type StartCheckoutRequest struct {
	AccountID string `json:"-"`
	Tier      string `json:"tier"`
	Email     string `json:"email"`
}

type CheckoutResult struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
}

type Status struct {
	Subscription subscriptiondomain.Subscription `json:"subscription"`
	Credits      int64                           `json:"credits"`
	Plan         *plandomain.Plan                `json:"plan,omitempty"`
}

// Service is the user-facing set of billing commands. Remote calls happen
// first; local state is only written after the provider accepted the change.
type Service interface {
	StartCheckout(ctx context.Context, req StartCheckoutRequest) (*CheckoutResult, error)
	OpenBillingPortal(ctx context.Context, accountID string) (string, error)
	CancelAtPeriodEnd(ctx context.Context, accountID string) (time.Time, error)
	Reactivate(ctx context.Context, accountID string) error
	ChangeTier(ctx context.Context, accountID string, tier string) (*subscriptiondomain.Subscription, error)
	GetStatus(ctx context.Context, accountID string) (*Status, error)
	GetBalance(ctx context.Context, accountID string) (int64, error)
}

var (
	ErrInvalidAccount       = errors.New("invalid_account")
	ErrPlanNotPurchasable   = errors.New("plan_not_purchasable")
	ErrNoActiveSubscription = errors.New("no_active_subscription")
	ErrAlreadyOnTier        = errors.New("already_on_tier")
	ErrNoBillingAccount     = errors.New("no_billing_account")
	ErrCommandInProgress    = errors.New("billing_command_in_progress")
	ErrLockUnavailable      = errors.New("billing_command_lock_unavailable")
	ErrRemoteUnavailable    = errors.New("billing_remote_unavailable")
)
