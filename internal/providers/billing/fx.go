package billing

import (
	"context"
	"strings"

	"github.com/smallbiznis/creditledger/internal/config"
	obsmetrics "github.com/smallbiznis/creditledger/internal/observability/metrics"
	billingdomain "github.com/smallbiznis/creditledger/internal/providers/billing/domain"
	"github.com/smallbiznis/creditledger/internal/providers/billing/stripe"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("billing.provider",
	fx.Provide(NewProvider),
)

type Params struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

// NewProvider returns the Stripe provider, or one that refuses every call when
// no secret key is configured.
func NewProvider(p Params) billingdomain.Provider {
	var next billingdomain.Provider
	if key := strings.TrimSpace(p.Cfg.Stripe.SecretKey); key != "" {
		next = stripe.New(key, nil)
	} else {
		p.Log.Warn("STRIPE_SECRET_KEY not set; billing commands will fail")
		next = unconfigured{}
	}
	return newInstrumented(next, p.Metrics, p.Log)
}

type unconfigured struct{}

func (unconfigured) CreateCustomer(context.Context, billingdomain.CreateCustomerInput) (string, error) {
	return "", billingdomain.ErrNotConfigured
}

func (unconfigured) RetrieveSubscription(context.Context, string) (*billingdomain.RemoteSubscription, error) {
	return nil, billingdomain.ErrNotConfigured
}

func (unconfigured) CreateCheckoutSession(context.Context, billingdomain.CheckoutSessionInput) (*billingdomain.CheckoutSession, error) {
	return nil, billingdomain.ErrNotConfigured
}

func (unconfigured) CreateBillingPortalSession(context.Context, string, string) (string, error) {
	return "", billingdomain.ErrNotConfigured
}

func (unconfigured) UpdateSubscriptionItem(context.Context, string, string, string) error {
	return billingdomain.ErrNotConfigured
}

func (unconfigured) UpdateSubscriptionCancelFlag(context.Context, string, bool) error {
	return billingdomain.ErrNotConfigured
}
