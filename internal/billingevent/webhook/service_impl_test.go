package webhook_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/creditledger/internal/billingevent/adapters"
	"github.com/smallbiznis/creditledger/internal/billingevent/adapters/stripe"
	billingeventdomain "github.com/smallbiznis/creditledger/internal/billingevent/domain"
	billingeventrepo "github.com/smallbiznis/creditledger/internal/billingevent/repository"
	"github.com/smallbiznis/creditledger/internal/billingevent/webhook"
	"github.com/smallbiznis/creditledger/internal/clock"
	"github.com/smallbiznis/creditledger/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const secret = "whsec_test"

type stubReconciler struct {
	mu   sync.Mutex
	envs []billingeventdomain.Envelope
	err  error
}

func (r *stubReconciler) Process(_ context.Context, env billingeventdomain.Envelope) (billingeventdomain.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
	if r.err != nil {
		return "", r.err
	}
	return billingeventdomain.OutcomeApplied, nil
}

type fixture struct {
	db         *gorm.DB
	clock      *clock.FakeClock
	reconciler *stubReconciler
	svc        billingeventdomain.Ingress
}

func setup(t *testing.T, webhookSecret string) fixture {
	t.Helper()
	db := dbtest.Open(t, &billingeventdomain.EventRecord{})
	clk := clock.NewFakeClock(time.Now().UTC())
	reconciler := &stubReconciler{}
	registry := adapters.NewRegistry(stripe.NewFactory()).
		Configure(stripe.ProviderName, billingeventdomain.AdapterConfig{WebhookSecret: webhookSecret})

	return fixture{
		db:         db,
		clock:      clk,
		reconciler: reconciler,
		svc: webhook.NewService(webhook.Params{
			DB: db, Log: zap.NewNop(), Clock: clk,
			Adapters: registry, Repo: billingeventrepo.Provide(), Reconciler: reconciler,
		}),
	}
}

func signedHeaders(payload []byte, key string) http.Header {
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{Payload: payload, Secret: key})
	headers := http.Header{}
	headers.Set("Stripe-Signature", signed.Header)
	return headers
}

var invoicePayload = []byte(`{"id":"evt_1","type":"invoice.payment_failed","created":1709251200,"data":{"object":{"id":"in_1","customer":"cus_1","amount_due":500}}}`)

func TestHandleProviderEvent(t *testing.T) {
	f := setup(t, secret)

	receipt, err := f.svc.HandleProviderEvent(context.Background(), "Stripe", invoicePayload, signedHeaders(invoicePayload, secret))
	require.NoError(t, err)
	assert.True(t, receipt.Received)

	require.Len(t, f.reconciler.envs, 1)
	env := f.reconciler.envs[0]
	assert.Equal(t, "stripe", env.Provider)
	assert.Equal(t, "evt_1", env.EventID)
	failed, ok := env.Event.(billingeventdomain.InvoicePaymentFailed)
	require.True(t, ok)
	assert.Equal(t, int64(500), failed.AmountDue)
}

func TestHandleProviderEventRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("bad signature", func(t *testing.T) {
		f := setup(t, secret)
		_, err := f.svc.HandleProviderEvent(ctx, "stripe", invoicePayload, signedHeaders(invoicePayload, "whsec_other"))
		assert.ErrorIs(t, err, billingeventdomain.ErrInvalidSignature)
		assert.Empty(t, f.reconciler.envs)
	})

	t.Run("unknown provider", func(t *testing.T) {
		f := setup(t, secret)
		_, err := f.svc.HandleProviderEvent(ctx, "paypal", invoicePayload, http.Header{})
		assert.ErrorIs(t, err, billingeventdomain.ErrProviderNotFound)
	})

	t.Run("missing provider", func(t *testing.T) {
		f := setup(t, secret)
		_, err := f.svc.HandleProviderEvent(ctx, " ", invoicePayload, http.Header{})
		assert.ErrorIs(t, err, billingeventdomain.ErrInvalidProvider)
	})

	t.Run("unconfigured secret", func(t *testing.T) {
		f := setup(t, "")
		_, err := f.svc.HandleProviderEvent(ctx, "stripe", invoicePayload, signedHeaders(invoicePayload, secret))
		assert.ErrorIs(t, err, billingeventdomain.ErrInvalidConfig)
	})

	t.Run("signed but malformed", func(t *testing.T) {
		f := setup(t, secret)
		payload := []byte(`{"id":`)
		_, err := f.svc.HandleProviderEvent(ctx, "stripe", payload, signedHeaders(payload, secret))
		assert.ErrorIs(t, err, billingeventdomain.ErrInvalidPayload)
	})

	t.Run("store failure", func(t *testing.T) {
		f := setup(t, secret)
		f.reconciler.err = errors.New("db down")
		receipt, err := f.svc.HandleProviderEvent(ctx, "stripe", invoicePayload, signedHeaders(invoicePayload, secret))
		assert.Error(t, err)
		assert.False(t, receipt.Received)
	})
}

func TestReplayPending(t *testing.T) {
	f := setup(t, secret)
	ctx := context.Background()
	now := f.clock.Now()
	processed := now.Add(-time.Hour)

	rows := []billingeventdomain.EventRecord{
		{ID: 1, Provider: "stripe", ProviderEventID: "evt_1", EventType: "invoice.payment_failed", Payload: datatypes.JSON(invoicePayload), ReceivedAt: now.Add(-10 * time.Minute)},
		{ID: 2, Provider: "stripe", ProviderEventID: "evt_2", EventType: "invoice.payment_failed", Payload: datatypes.JSON(invoicePayload), ReceivedAt: now.Add(-10 * time.Minute), ProcessedAt: &processed},
		{ID: 3, Provider: "stripe", ProviderEventID: "evt_3", EventType: "invoice.payment_failed", Payload: datatypes.JSON(invoicePayload), ReceivedAt: now},
	}
	require.NoError(t, f.db.Create(&rows).Error)

	replayed, err := f.svc.ReplayPending(ctx, 5*time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, replayed)
	require.Len(t, f.reconciler.envs, 1)
	assert.Equal(t, "stripe", f.reconciler.envs[0].Provider)

	f.reconciler.err = errors.New("still down")
	replayed, err = f.svc.ReplayPending(ctx, 5*time.Minute, 10)
	assert.Error(t, err)
	assert.Zero(t, replayed)
}
