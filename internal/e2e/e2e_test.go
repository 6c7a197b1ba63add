package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/creditledger/internal/billing"
	"github.com/smallbiznis/creditledger/internal/billingevent"
	"github.com/smallbiznis/creditledger/internal/clock"
	"github.com/smallbiznis/creditledger/internal/config"
	"github.com/smallbiznis/creditledger/internal/ledger"
	"github.com/smallbiznis/creditledger/internal/migration"
	"github.com/smallbiznis/creditledger/internal/observability"
	obsmetrics "github.com/smallbiznis/creditledger/internal/observability/metrics"
	"github.com/smallbiznis/creditledger/internal/payment"
	"github.com/smallbiznis/creditledger/internal/plan"
	"github.com/smallbiznis/creditledger/internal/providers/billing/billingtest"
	billingprovider "github.com/smallbiznis/creditledger/internal/providers/billing/domain"
	"github.com/smallbiznis/creditledger/internal/providers/pdf"
	"github.com/smallbiznis/creditledger/internal/server"
	"github.com/smallbiznis/creditledger/internal/subscription"
	"github.com/smallbiznis/creditledger/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	webhookSecret = "whsec_e2e"
	adminToken    = "e2e-admin-token"
	accountID     = "acct_e2e"
)

type testEnv struct {
	db       *gorm.DB
	clock    *clock.FakeClock
	provider *billingtest.Provider
	httpSrv  *httptest.Server
}

func startEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := bcrypt.GenerateFromPassword([]byte(adminToken), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := config.Config{
		Environment:    "test",
		AdminTokenHash: string(hash),
		Stripe: config.StripeConfig{
			WebhookSecret: webhookSecret,
			FrontendURL:   "https://app.test",
		},
	}
	env := &testEnv{
		db:       dbtest.Open(t),
		clock:    clock.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		provider: billingtest.New(),
	}

	var srv *server.Server
	app := fxtest.New(t,
		fx.NopLogger,
		fx.Supply(cfg),
		fx.Provide(func() *zap.Logger { return zap.NewNop() }),
		fx.Provide(func() *gorm.DB { return env.db }),
		fx.Provide(func() *snowflake.Node { return dbtest.Node(t) }),
		fx.Provide(func() clock.Clock { return env.clock }),
		fx.Provide(func() *config.CatalogHolder {
			return config.NewStaticCatalogHolder(config.DefaultCatalogConfig())
		}),
		fx.Provide(func() billingprovider.Provider { return env.provider }),
		fx.Provide(func() *gin.Engine {
			return server.NewEngine(observability.Config{}, obsmetrics.NewHTTPMetricsWithRegisterer(prometheus.NewRegistry()))
		}),
		migration.Module,
		pdf.Module,
		plan.Module,
		ledger.Module,
		subscription.Module,
		payment.Module,
		billingevent.Module,
		billing.Module,
		fx.Provide(server.NewServer),
		fx.Populate(&srv),
	)
	app.RequireStart()
	t.Cleanup(app.RequireStop)

	env.httpSrv = httptest.NewServer(srv.Engine())
	t.Cleanup(env.httpSrv.Close)
	return env
}

func TestE2E_HealthCheck(t *testing.T) {
	env := startEnv(t)

	resp, body := env.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestE2E_PlansAreSeeded(t *testing.T) {
	env := startEnv(t)

	resp, body := env.do(t, http.MethodGet, "/api/plans", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out struct {
		Data []struct {
			Tier    string `json:"tier"`
			Credits int64  `json:"credits"`
		} `json:"data"`
	}
	decode(t, body, &out)
	require.Len(t, out.Data, 4)
	assert.Equal(t, "FREE", out.Data[0].Tier)
	assert.Equal(t, int64(20), out.Data[0].Credits)
}

func TestE2E_CreditLifecycle(t *testing.T) {
	env := startEnv(t)
	admin := map[string]string{"Authorization": "Bearer " + adminToken}

	resp, body := env.do(t, http.MethodPost, "/admin/accounts/"+accountID, nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode, string(body))

	resp, body = env.do(t, http.MethodPost, "/admin/accounts/"+accountID, nil, admin)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, int64(20), env.balance(t))

	resp, body = env.do(t, http.MethodPost, "/api/accounts/"+accountID+"/credits/deduct", map[string]string{"action": "generate_title"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, int64(19), env.balance(t))

	resp, body = env.do(t, http.MethodPost, "/api/accounts/"+accountID+"/credits/check", map[string]string{"action": "VIDEO_GENERATION"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	grant := map[string]any{"amount": 5, "reference": "support-42"}
	for i := 0; i < 2; i++ {
		resp, body = env.do(t, http.MethodPost, "/admin/accounts/"+accountID+"/credits", grant, admin)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	}
	assert.Equal(t, int64(24), env.balance(t))

	resp, body = env.do(t, http.MethodGet, "/api/accounts/"+accountID+"/usage", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var usage struct {
		Data []struct {
			Action      string `json:"action"`
			CreditsUsed int64  `json:"credits_used"`
		} `json:"data"`
	}
	decode(t, body, &usage)
	require.Len(t, usage.Data, 1)
	assert.Equal(t, "GENERATE_TITLE", usage.Data[0].Action)
	assert.Equal(t, int64(1), usage.Data[0].CreditsUsed)
}

func TestE2E_InsufficientCredits(t *testing.T) {
	env := startEnv(t)
	admin := map[string]string{"Authorization": "Bearer " + adminToken}

	resp, body := env.do(t, http.MethodPost, "/admin/accounts/"+accountID, nil, admin)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	for i := 0; i < 2; i++ {
		resp, body = env.do(t, http.MethodPost, "/api/accounts/"+accountID+"/credits/deduct", map[string]string{"action": "VIDEO_GENERATION"}, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	}
	resp, body = env.do(t, http.MethodPost, "/api/accounts/"+accountID+"/credits/deduct", map[string]string{"action": "GENERATE_TITLE"}, nil)
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode, string(body))
	assert.Equal(t, int64(0), env.balance(t))
}

func TestE2E_CheckoutAndRenewal(t *testing.T) {
	env := startEnv(t)
	admin := map[string]string{"Authorization": "Bearer " + adminToken}

	resp, body := env.do(t, http.MethodPost, "/admin/accounts/"+accountID, nil, admin)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = env.do(t, http.MethodPost, "/api/accounts/"+accountID+"/checkout", map[string]string{"tier": "PRO", "email": "owner@example.com"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var checkout struct {
		Data struct {
			URL       string `json:"url"`
			SessionID string `json:"session_id"`
		} `json:"data"`
	}
	decode(t, body, &checkout)
	require.NotEmpty(t, checkout.Data.URL)
	assert.Equal(t, 1, env.provider.CallCount("CreateCustomer"))

	periodStart := env.clock.Now()
	periodEnd := periodStart.AddDate(0, 1, 0)
	env.provider.PutSubscription(billingprovider.RemoteSubscription{
		ID:                 "sub_e2e",
		CustomerID:         "cus_1",
		Status:             "active",
		CurrentPeriodStart: &periodStart,
		CurrentPeriodEnd:   &periodEnd,
		Items:              []billingprovider.RemoteSubscriptionItem{{ID: "si_1", PriceID: "price_pro"}},
	})

	completed := []byte(fmt.Sprintf(`{"id":"evt_checkout","object":"event","type":"checkout.session.completed","created":%d,"data":{"object":{"id":%q,"object":"checkout.session","customer":"cus_1","subscription":"sub_e2e","metadata":{"account_id":%q,"tier":"PRO"}}}}`,
		periodStart.Unix(), checkout.Data.SessionID, accountID))

	resp, body = env.postWebhook(t, completed, webhookSecret)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, int64(520), env.balance(t))

	// redelivery is acknowledged without a second grant
	resp, body = env.postWebhook(t, completed, webhookSecret)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, int64(520), env.balance(t))

	resp, body = env.do(t, http.MethodGet, "/api/accounts/"+accountID+"/status", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var status struct {
		Data struct {
			Subscription struct {
				Tier   string `json:"tier"`
				Status string `json:"status"`
			} `json:"subscription"`
			Credits int64 `json:"credits"`
		} `json:"data"`
	}
	decode(t, body, &status)
	assert.Equal(t, "PRO", status.Data.Subscription.Tier)
	assert.Equal(t, "ACTIVE", status.Data.Subscription.Status)
	assert.Equal(t, int64(520), status.Data.Credits)

	resp, body = env.do(t, http.MethodPost, "/api/accounts/"+accountID+"/change-plan", map[string]string{"tier": "PRO"}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, string(body))

	renewalStart := periodEnd
	renewalEnd := renewalStart.AddDate(0, 1, 0)
	paid := []byte(fmt.Sprintf(`{"id":"evt_paid","object":"event","type":"invoice.payment_succeeded","created":%d,"data":{"object":{"id":"in_e2e","object":"invoice","customer":"cus_1","amount_paid":29900,"currency":"usd","lines":{"object":"list","data":[{"id":"il_1","period":{"start":%d,"end":%d}}]}}}}`,
		renewalStart.Unix(), renewalStart.Unix(), renewalEnd.Unix()))

	resp, body = env.postWebhook(t, paid, webhookSecret)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, int64(1020), env.balance(t))

	resp, body = env.postWebhook(t, paid, webhookSecret)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, int64(1020), env.balance(t))

	resp, body = env.do(t, http.MethodGet, "/api/accounts/"+accountID+"/payments", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var payments struct {
		Data []struct {
			ExternalInvoiceID string `json:"external_invoice_id"`
			Amount            int64  `json:"amount"`
			Status            string `json:"status"`
		} `json:"data"`
	}
	decode(t, body, &payments)
	require.Len(t, payments.Data, 1)
	assert.Equal(t, "in_e2e", payments.Data[0].ExternalInvoiceID)
	assert.Equal(t, int64(29900), payments.Data[0].Amount)
	assert.Equal(t, "PAID", payments.Data[0].Status)

	resp, body = env.do(t, http.MethodGet, "/api/accounts/"+accountID+"/payments/in_e2e/receipt", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(body, []byte("%PDF")))
}

func TestE2E_WebhookRejectsBadSignature(t *testing.T) {
	env := startEnv(t)

	payload := []byte(`{"id":"evt_forged","object":"event","type":"invoice.payment_succeeded","created":1709251200,"data":{"object":{"id":"in_forged","customer":"cus_1","amount_paid":100}}}`)
	resp, body := env.postWebhook(t, payload, "whsec_other")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, string(body))

	var count int64
	require.NoError(t, env.db.Table("billing_event_inbox").Count(&count).Error)
	assert.Zero(t, count)
}

func (e *testEnv) balance(t *testing.T) int64 {
	t.Helper()
	resp, body := e.do(t, http.MethodGet, "/api/accounts/"+accountID+"/balance", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out struct {
		Data struct {
			Credits int64 `json:"credits"`
		} `json:"data"`
	}
	decode(t, body, &out)
	return out.Data.Credits
}

func (e *testEnv) postWebhook(t *testing.T, payload []byte, secret string) (*http.Response, []byte) {
	t.Helper()
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{Payload: payload, Secret: secret})
	req, err := http.NewRequest(http.MethodPost, e.httpSrv.URL+"/webhooks/stripe", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)
	return send(t, req)
}

func (e *testEnv) do(t *testing.T, method, path string, payload any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.httpSrv.URL+path, reader)
	require.NoError(t, err)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return send(t, req)
}

func send(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func decode(t *testing.T, body []byte, target any) {
	t.Helper()
	if err := json.Unmarshal(body, target); err != nil {
		t.Fatalf("decode %s: %v", string(body), err)
	}
}
