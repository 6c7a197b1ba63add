package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("account_id", "123"),
		attribute.String("action", "GENERATE_TITLE"),
		attribute.String("outcome", "ok"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "account_id" {
			t.Fatalf("expected account_id to be dropped")
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordBillingEvent(ctx, "stripe", "invoice.payment_succeeded", OutcomeOK)
	m.RecordCreditGrant(ctx, "invoice", 100)
	m.RecordDeduction(ctx, "GENERATE_TITLE", OutcomeOK, 1)
	m.RecordRemoteCall(ctx, "subscriptions.get", time.Millisecond, errors.New("boom"))
	m.RecordRateLimited(ctx, "deduct", "token_bucket")
}

func TestNewRegistersInstruments(t *testing.T) {
	m, err := New(Config{ServiceName: "creditledger-test"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	if m == nil {
		t.Fatalf("expected metrics instance")
	}
	m.RecordDeduction(context.Background(), "IMAGE_GENERATION", OutcomeOK, 5)
}
