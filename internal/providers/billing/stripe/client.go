package stripe

import (
	"context"
	"strings"
	"time"

	billingdomain "github.com/smallbiznis/creditledger/internal/providers/billing/domain"
	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// Provider talks to Stripe through the stripe-go client. Calls are not retried.
type Provider struct {
	api *client.API
}

// New returns a provider for secretKey. backends may be nil to use Stripe's endpoints.
func New(secretKey string, backends *stripego.Backends) *Provider {
	return &Provider{api: client.New(strings.TrimSpace(secretKey), backends)}
}

func (p *Provider) CreateCustomer(ctx context.Context, in billingdomain.CreateCustomerInput) (string, error) {
	params := &stripego.CustomerParams{}
	params.Context = ctx
	if email := strings.TrimSpace(in.Email); email != "" {
		params.Email = stripego.String(email)
	}
	params.AddMetadata(billingdomain.MetadataAccountID, in.AccountID)

	customer, err := p.api.Customers.New(params)
	if err != nil {
		return "", err
	}
	return customer.ID, nil
}

func (p *Provider) RetrieveSubscription(ctx context.Context, subscriptionID string) (*billingdomain.RemoteSubscription, error) {
	params := &stripego.SubscriptionParams{}
	params.Context = ctx

	sub, err := p.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, err
	}

	out := &billingdomain.RemoteSubscription{
		ID:                 sub.ID,
		Status:             string(sub.Status),
		CurrentPeriodStart: unixTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			remote := billingdomain.RemoteSubscriptionItem{ID: item.ID}
			if item.Price != nil {
				remote.PriceID = item.Price.ID
			}
			out.Items = append(out.Items, remote)
		}
	}
	return out, nil
}

func (p *Provider) CreateCheckoutSession(ctx context.Context, in billingdomain.CheckoutSessionInput) (*billingdomain.CheckoutSession, error) {
	params := &stripego.CheckoutSessionParams{
		Customer: stripego.String(in.CustomerID),
		Mode:     stripego.String(string(stripego.CheckoutSessionModeSubscription)),
		LineItems: []*stripego.CheckoutSessionLineItemParams{{
			Price:    stripego.String(in.PriceID),
			Quantity: stripego.Int64(1),
		}},
		SuccessURL: stripego.String(in.SuccessURL),
		CancelURL:  stripego.String(in.CancelURL),
	}
	params.Context = ctx
	params.AddMetadata(billingdomain.MetadataAccountID, in.AccountID)
	params.AddMetadata(billingdomain.MetadataTier, in.Tier)

	session, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, err
	}
	return &billingdomain.CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func (p *Provider) CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripego.BillingPortalSessionParams{
		Customer:  stripego.String(customerID),
		ReturnURL: stripego.String(returnURL),
	}
	params.Context = ctx

	session, err := p.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", err
	}
	return session.URL, nil
}

func (p *Provider) UpdateSubscriptionItem(ctx context.Context, subscriptionID, itemID, priceID string) error {
	params := &stripego.SubscriptionParams{
		Items: []*stripego.SubscriptionItemsParams{{
			ID:    stripego.String(itemID),
			Price: stripego.String(priceID),
		}},
		ProrationBehavior: stripego.String("create_prorations"),
	}
	params.Context = ctx

	_, err := p.api.Subscriptions.Update(subscriptionID, params)
	return err
}

func (p *Provider) UpdateSubscriptionCancelFlag(ctx context.Context, subscriptionID string, cancelAtPeriodEnd bool) error {
	params := &stripego.SubscriptionParams{
		CancelAtPeriodEnd: stripego.Bool(cancelAtPeriodEnd),
	}
	params.Context = ctx

	_, err := p.api.Subscriptions.Update(subscriptionID, params)
	return err
}

func unixTime(v int64) *time.Time {
	if v <= 0 {
		return nil
	}
	t := time.Unix(v, 0).UTC()
	return &t
}

var _ billingdomain.Provider = (*Provider)(nil)
