package domain

import (
	"context"
	"errors"
	"time"
)

// Provider is the outbound port to the remote billing system.
type Provider interface {
	CreateCustomer(ctx context.Context, in CreateCustomerInput) (string, error)
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*RemoteSubscription, error)
	CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (*CheckoutSession, error)
	CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	// UpdateSubscriptionItem swaps the price of one item and prorates the change.
	UpdateSubscriptionItem(ctx context.Context, subscriptionID, itemID, priceID string) error
	UpdateSubscriptionCancelFlag(ctx context.Context, subscriptionID string, cancelAtPeriodEnd bool) error
}

type CreateCustomerInput struct {
	AccountID string
	Email     string
}

type CheckoutSessionInput struct {
	CustomerID string
	PriceID    string
	AccountID  string
	Tier       string
	SuccessURL string
	CancelURL  string
}

type CheckoutSession struct {
	ID  string
	URL string
}

type RemoteSubscription struct {
	ID                 string
	CustomerID         string
	Status             string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	Items              []RemoteSubscriptionItem
}

type RemoteSubscriptionItem struct {
	ID      string
	PriceID string
}

// Metadata keys written on checkout sessions and customers and read back from events.
const (
	MetadataAccountID = "account_id"
	MetadataTier      = "tier"
)

var (
	ErrNotConfigured      = errors.New("billing_provider_not_configured")
	ErrSubscriptionNoItem = errors.New("remote_subscription_has_no_items")
)
