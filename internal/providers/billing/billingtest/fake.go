// Package billingtest provides an in-memory billing provider for tests.
package billingtest

import (
	"context"
	"fmt"
	"sync"

	billingdomain "github.com/smallbiznis/creditledger/internal/providers/billing/domain"
)

// Call records one invocation on the fake.
type Call struct {
	Method string
	Args   []any
}

// Provider is a scriptable fake. Set Err to make every call fail, or
// FailOn[method] to fail a single method.
type Provider struct {
	mu sync.Mutex

	Subscriptions map[string]*billingdomain.RemoteSubscription
	Err           error
	FailOn        map[string]error
	calls         []Call
	seq           int
}

func New() *Provider {
	return &Provider{
		Subscriptions: map[string]*billingdomain.RemoteSubscription{},
		FailOn:        map[string]error{},
	}
}

// PutSubscription registers a remote subscription returned by RetrieveSubscription.
func (p *Provider) PutSubscription(sub billingdomain.RemoteSubscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Subscriptions[sub.ID] = &sub
}

func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// CallCount returns how many times method was invoked; an empty method counts all calls.
func (p *Provider) CallCount(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if method == "" {
		return len(p.calls)
	}
	n := 0
	for _, c := range p.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (p *Provider) record(method string, args ...any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Method: method, Args: args})
	if p.Err != nil {
		return p.Err
	}
	return p.FailOn[method]
}

func (p *Provider) nextID(prefix string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	return fmt.Sprintf("%s_%d", prefix, p.seq)
}

func (p *Provider) CreateCustomer(_ context.Context, in billingdomain.CreateCustomerInput) (string, error) {
	if err := p.record("CreateCustomer", in); err != nil {
		return "", err
	}
	return p.nextID("cus"), nil
}

func (p *Provider) RetrieveSubscription(_ context.Context, subscriptionID string) (*billingdomain.RemoteSubscription, error) {
	if err := p.record("RetrieveSubscription", subscriptionID); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	sub, ok := p.Subscriptions[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("no such subscription: %s", subscriptionID)
	}
	copied := *sub
	copied.Items = append([]billingdomain.RemoteSubscriptionItem(nil), sub.Items...)
	return &copied, nil
}

func (p *Provider) CreateCheckoutSession(_ context.Context, in billingdomain.CheckoutSessionInput) (*billingdomain.CheckoutSession, error) {
	if err := p.record("CreateCheckoutSession", in); err != nil {
		return nil, err
	}
	id := p.nextID("cs")
	return &billingdomain.CheckoutSession{ID: id, URL: "https://checkout.test/" + id}, nil
}

func (p *Provider) CreateBillingPortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	if err := p.record("CreateBillingPortalSession", customerID, returnURL); err != nil {
		return "", err
	}
	return "https://portal.test/" + customerID, nil
}

func (p *Provider) UpdateSubscriptionItem(_ context.Context, subscriptionID, itemID, priceID string) error {
	if err := p.record("UpdateSubscriptionItem", subscriptionID, itemID, priceID); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if sub, ok := p.Subscriptions[subscriptionID]; ok {
		for i := range sub.Items {
			if sub.Items[i].ID == itemID {
				sub.Items[i].PriceID = priceID
			}
		}
	}
	return nil
}

func (p *Provider) UpdateSubscriptionCancelFlag(_ context.Context, subscriptionID string, cancelAtPeriodEnd bool) error {
	if err := p.record("UpdateSubscriptionCancelFlag", subscriptionID, cancelAtPeriodEnd); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if sub, ok := p.Subscriptions[subscriptionID]; ok {
		sub.CancelAtPeriodEnd = cancelAtPeriodEnd
	}
	return nil
}

var _ billingdomain.Provider = (*Provider)(nil)
