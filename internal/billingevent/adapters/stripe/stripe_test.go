package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	billingeventdomain "github.com/smallbiznis/creditledger/internal/billingevent/domain"
	"github.com/stripe/stripe-go/v76/webhook"
)

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123","type":"invoice.paid","data":{"object":{}}}`)
	timestamp := time.Now().Unix()

	adapter, err := NewFactory().NewAdapter(billingeventdomain.AdapterConfig{WebhookSecret: secret})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	reqHeader := http.Header{}
	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader(secret, payload, timestamp))
	if err := adapter.Verify(context.Background(), payload, reqHeader); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: secret})
	reqHeader.Set("Stripe-Signature", signed.Header)
	if err := adapter.Verify(context.Background(), payload, reqHeader); err != nil {
		t.Fatalf("expected library-signed payload to verify, got: %v", err)
	}

	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader("wrong", payload, timestamp))
	if err := adapter.Verify(context.Background(), payload, reqHeader); !errors.Is(err, billingeventdomain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature error, got %v", err)
	}

	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader(secret, payload, timestamp-3600))
	if err := adapter.Verify(context.Background(), payload, reqHeader); !errors.Is(err, billingeventdomain.ErrInvalidSignature) {
		t.Fatalf("expected stale signature to be rejected, got %v", err)
	}

	reqHeader.Del("Stripe-Signature")
	if err := adapter.Verify(context.Background(), payload, reqHeader); !errors.Is(err, billingeventdomain.ErrInvalidSignature) {
		t.Fatalf("expected missing header to be rejected, got %v", err)
	}
}

func TestFactoryRequiresSecret(t *testing.T) {
	if _, err := NewFactory().NewAdapter(billingeventdomain.AdapterConfig{WebhookSecret: "  "}); !errors.Is(err, billingeventdomain.ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
}

func TestParseEvents(t *testing.T) {
	adapter := &Adapter{webhookSecret: "whsec_test"}
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	t.Run("checkout.session.completed", func(t *testing.T) {
		env := parse(t, adapter, map[string]any{
			"id": "evt_checkout", "type": "checkout.session.completed", "created": start.Unix(),
			"data": map[string]any{"object": map[string]any{
				"id": "cs_1", "object": "checkout.session", "customer": "cus_1", "subscription": "sub_1",
				"metadata": map[string]any{"account_id": "acct_1", "tier": "pro"},
			}},
		})
		ev, ok := env.Event.(billingeventdomain.CheckoutCompleted)
		if !ok {
			t.Fatalf("expected CheckoutCompleted, got %T", env.Event)
		}
		if ev.SessionID != "cs_1" || ev.AccountID.OrElse("") != "acct_1" || ev.Tier.OrElse("") != "PRO" {
			t.Fatalf("unexpected checkout event: %+v", ev)
		}
		if ev.CustomerID.OrElse("") != "cus_1" || ev.SubscriptionID.OrElse("") != "sub_1" {
			t.Fatalf("unexpected remote ids: %+v", ev)
		}
		if !env.OccurredAt.Equal(start) || env.EventID != "evt_checkout" || env.Provider != ProviderName {
			t.Fatalf("unexpected envelope: %+v", env)
		}
	})

	t.Run("checkout without metadata", func(t *testing.T) {
		env := parse(t, adapter, map[string]any{
			"id": "evt_checkout_2", "type": "checkout.session.completed",
			"data": map[string]any{"object": map[string]any{"id": "cs_2"}},
		})
		ev := env.Event.(billingeventdomain.CheckoutCompleted)
		if ev.AccountID.IsSome() || ev.Tier.IsSome() || ev.SubscriptionID.IsSome() {
			t.Fatalf("expected absent optionals, got %+v", ev)
		}
	})

	t.Run("customer.subscription.updated", func(t *testing.T) {
		env := parse(t, adapter, map[string]any{
			"id": "evt_sub", "type": "customer.subscription.updated",
			"data": map[string]any{"object": map[string]any{
				"id": "sub_1", "customer": "cus_1", "status": "past_due",
				"current_period_start": start.Unix(), "current_period_end": end.Unix(),
				"cancel_at_period_end": false,
			}},
		})
		ev := env.Event.(billingeventdomain.SubscriptionUpdated)
		if ev.Status != "past_due" || ev.CustomerID != "cus_1" {
			t.Fatalf("unexpected update: %+v", ev)
		}
		cancel, ok := ev.CancelAtPeriodEnd.Get()
		if !ok || cancel {
			t.Fatalf("expected explicit cancel_at_period_end=false")
		}
		if got := ev.CurrentPeriodEnd.OrElse(time.Time{}); !got.Equal(end) {
			t.Fatalf("expected period end %s, got %s", end, got)
		}
	})

	t.Run("customer.subscription.updated without periods", func(t *testing.T) {
		env := parse(t, adapter, map[string]any{
			"id": "evt_sub_2", "type": "customer.subscription.updated",
			"data": map[string]any{"object": map[string]any{"id": "sub_1", "customer": "cus_1", "status": "active"}},
		})
		ev := env.Event.(billingeventdomain.SubscriptionUpdated)
		if ev.CurrentPeriodStart.IsSome() || ev.CurrentPeriodEnd.IsSome() || ev.CancelAtPeriodEnd.IsSome() {
			t.Fatalf("expected absent optionals, got %+v", ev)
		}
	})

	t.Run("customer.subscription.deleted", func(t *testing.T) {
		env := parse(t, adapter, map[string]any{
			"id": "evt_del", "type": "customer.subscription.deleted",
			"data": map[string]any{"object": map[string]any{"id": "sub_1", "customer": "cus_1", "status": "canceled"}},
		})
		if ev := env.Event.(billingeventdomain.SubscriptionDeleted); ev.CustomerID != "cus_1" {
			t.Fatalf("unexpected delete: %+v", ev)
		}
	})

	t.Run("invoice.payment_succeeded", func(t *testing.T) {
		env := parse(t, adapter, map[string]any{
			"id": "evt_inv", "type": "invoice.payment_succeeded",
			"data": map[string]any{"object": map[string]any{
				"id": "in_1", "customer": "cus_1", "amount_paid": 1999, "currency": "EUR",
				"lines": map[string]any{"object": "list", "data": []any{
					map[string]any{"id": "il_1", "period": map[string]any{"start": start.Unix(), "end": end.Unix()}},
				}},
			}},
		})
		ev := env.Event.(billingeventdomain.InvoicePaymentSucceeded)
		if ev.InvoiceID != "in_1" || ev.AmountPaid != 1999 || ev.Currency.OrElse("") != "eur" {
			t.Fatalf("unexpected invoice: %+v", ev)
		}
		if got := ev.PeriodStart.OrElse(time.Time{}); !got.Equal(start) {
			t.Fatalf("expected period start %s, got %s", start, got)
		}
	})

	t.Run("invoice.payment_failed", func(t *testing.T) {
		env := parse(t, adapter, map[string]any{
			"id": "evt_inv_f", "type": "invoice.payment_failed",
			"data": map[string]any{"object": map[string]any{"id": "in_2", "customer": "cus_1", "amount_due": 4999}},
		})
		ev := env.Event.(billingeventdomain.InvoicePaymentFailed)
		if ev.AmountDue != 4999 || ev.Currency.IsSome() {
			t.Fatalf("unexpected failed invoice: %+v", ev)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		env := parse(t, adapter, map[string]any{
			"id": "evt_x", "type": "customer.created",
			"data": map[string]any{"object": map[string]any{"id": "cus_1"}},
		})
		if ev := env.Event.(billingeventdomain.Unknown); ev.Type != "customer.created" {
			t.Fatalf("unexpected unknown: %+v", ev)
		}
	})
}

func TestParseRejectsMalformed(t *testing.T) {
	adapter := &Adapter{webhookSecret: "whsec_test"}

	if _, err := adapter.Parse(context.Background(), []byte(`{not json`)); !errors.Is(err, billingeventdomain.ErrInvalidPayload) {
		t.Fatalf("expected invalid payload, got %v", err)
	}
	if _, err := adapter.Parse(context.Background(), []byte(`{"type":"invoice.payment_failed"}`)); !errors.Is(err, billingeventdomain.ErrInvalidEvent) {
		t.Fatalf("expected invalid event for missing id, got %v", err)
	}
	payload := []byte(`{"id":"evt_1","type":"invoice.payment_failed","data":{"object":{"id":"in_1"}}}`)
	if _, err := adapter.Parse(context.Background(), payload); !errors.Is(err, billingeventdomain.ErrInvalidEvent) {
		t.Fatalf("expected invalid event for missing customer, got %v", err)
	}
	payload = []byte(`{"id":"evt_2","type":"customer.subscription.updated","data":{"object":{"id":"sub_1","customer":"cus_1","status":"active","cancel_at_period_end":"yes"}}}`)
	if _, err := adapter.Parse(context.Background(), payload); !errors.Is(err, billingeventdomain.ErrInvalidPayload) {
		t.Fatalf("expected invalid payload for non-boolean cancel flag, got %v", err)
	}
}

func parse(t *testing.T, adapter *Adapter, event map[string]any) *billingeventdomain.Envelope {
	t.Helper()
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	env, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	return env
}

func buildStripeSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	signature := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, signature)
}
