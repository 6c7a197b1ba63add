package billing

import (
	"context"
	"time"

	obsmetrics "github.com/smallbiznis/creditledger/internal/observability/metrics"
	"github.com/smallbiznis/creditledger/internal/observability/tracing"
	billingdomain "github.com/smallbiznis/creditledger/internal/providers/billing/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// instrumented wraps a Provider with a span, a metric and a log line per call.
type instrumented struct {
	next    billingdomain.Provider
	metrics *obsmetrics.Metrics
	log     *zap.Logger
	tracer  trace.Tracer
}

func newInstrumented(next billingdomain.Provider, metrics *obsmetrics.Metrics, log *zap.Logger) billingdomain.Provider {
	return &instrumented{
		next:    next,
		metrics: metrics,
		log:     log.Named("billing.provider"),
		tracer:  otel.Tracer("creditledger/billing-provider"),
	}
}

func (p *instrumented) observe(ctx context.Context, operation string, call func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "billing."+operation, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	start := time.Now()
	err := call(ctx)
	elapsed := time.Since(start)

	p.metrics.RecordRemoteCall(ctx, operation, elapsed, err)
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, operation+" failed")
		p.log.Warn("remote billing call failed",
			zap.String("operation", operation),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
	}
	return err
}

func (p *instrumented) CreateCustomer(ctx context.Context, in billingdomain.CreateCustomerInput) (id string, err error) {
	err = p.observe(ctx, "customers.create", func(ctx context.Context) error {
		id, err = p.next.CreateCustomer(ctx, in)
		return err
	})
	return id, err
}

func (p *instrumented) RetrieveSubscription(ctx context.Context, subscriptionID string) (sub *billingdomain.RemoteSubscription, err error) {
	err = p.observe(ctx, "subscriptions.get", func(ctx context.Context) error {
		sub, err = p.next.RetrieveSubscription(ctx, subscriptionID)
		return err
	})
	return sub, err
}

func (p *instrumented) CreateCheckoutSession(ctx context.Context, in billingdomain.CheckoutSessionInput) (session *billingdomain.CheckoutSession, err error) {
	err = p.observe(ctx, "checkout_sessions.create", func(ctx context.Context) error {
		session, err = p.next.CreateCheckoutSession(ctx, in)
		return err
	})
	return session, err
}

func (p *instrumented) CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (url string, err error) {
	err = p.observe(ctx, "billing_portal_sessions.create", func(ctx context.Context) error {
		url, err = p.next.CreateBillingPortalSession(ctx, customerID, returnURL)
		return err
	})
	return url, err
}

func (p *instrumented) UpdateSubscriptionItem(ctx context.Context, subscriptionID, itemID, priceID string) error {
	return p.observe(ctx, "subscriptions.update_item", func(ctx context.Context) error {
		return p.next.UpdateSubscriptionItem(ctx, subscriptionID, itemID, priceID)
	})
}

func (p *instrumented) UpdateSubscriptionCancelFlag(ctx context.Context, subscriptionID string, cancelAtPeriodEnd bool) error {
	return p.observe(ctx, "subscriptions.update_cancel_flag", func(ctx context.Context) error {
		return p.next.UpdateSubscriptionCancelFlag(ctx, subscriptionID, cancelAtPeriodEnd)
	})
}
