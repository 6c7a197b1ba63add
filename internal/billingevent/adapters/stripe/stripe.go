package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	billingeventdomain "github.com/smallbiznis/creditledger/internal/billingevent/domain"
	billingdomain "github.com/smallbiznis/creditledger/internal/providers/billing/domain"
	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const ProviderName = "stripe"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return ProviderName
}

func (f *Factory) NewAdapter(cfg billingeventdomain.AdapterConfig) (billingeventdomain.Adapter, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, billingeventdomain.ErrInvalidConfig
	}
	return &Adapter{webhookSecret: secret, tolerance: webhook.DefaultTolerance}, nil
}

type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return billingeventdomain.ErrInvalidSignature
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, sigHeader, a.webhookSecret, a.tolerance); err != nil {
		return billingeventdomain.ErrInvalidSignature
	}
	return nil
}

// Parse decodes a verified delivery into an envelope. Types outside the
// handled set become Unknown rather than errors.
func (a *Adapter) Parse(ctx context.Context, payload []byte) (*billingeventdomain.Envelope, error) {
	var event stripego.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, billingeventdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(string(event.Type)) == "" {
		return nil, billingeventdomain.ErrInvalidEvent
	}

	parsed, err := parseEvent(event)
	if err != nil {
		return nil, err
	}

	return &billingeventdomain.Envelope{
		Provider:   ProviderName,
		EventID:    event.ID,
		EventType:  string(event.Type),
		OccurredAt: timestamp(event.Created),
		Payload:    payload,
		Event:      parsed,
	}, nil
}

func parseEvent(event stripego.Event) (billingeventdomain.Event, error) {
	switch event.Type {
	case stripego.EventTypeCheckoutSessionCompleted:
		return parseCheckout(event)
	case stripego.EventTypeCustomerSubscriptionUpdated:
		return parseSubscriptionUpdated(event)
	case stripego.EventTypeCustomerSubscriptionDeleted:
		return parseSubscriptionDeleted(event)
	case stripego.EventTypeInvoicePaymentSucceeded:
		return parseInvoiceSucceeded(event)
	case stripego.EventTypeInvoicePaymentFailed:
		return parseInvoiceFailed(event)
	default:
		return billingeventdomain.Unknown{Type: string(event.Type)}, nil
	}
}

func parseCheckout(event stripego.Event) (billingeventdomain.Event, error) {
	var session stripego.CheckoutSession
	if err := decodeObject(event, &session); err != nil {
		return nil, err
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, billingeventdomain.ErrInvalidEvent
	}

	out := billingeventdomain.CheckoutCompleted{
		SessionID: session.ID,
		AccountID: billingeventdomain.SomeString(readMetadataValue(session.Metadata, billingdomain.MetadataAccountID, "userId")),
		Tier:      billingeventdomain.SomeString(strings.ToUpper(readMetadataValue(session.Metadata, billingdomain.MetadataTier))),
	}
	if session.Customer != nil {
		out.CustomerID = billingeventdomain.SomeString(strings.TrimSpace(session.Customer.ID))
	}
	if session.Subscription != nil {
		out.SubscriptionID = billingeventdomain.SomeString(strings.TrimSpace(session.Subscription.ID))
	}
	return out, nil
}

func parseSubscriptionUpdated(event stripego.Event) (billingeventdomain.Event, error) {
	var sub stripego.Subscription
	if err := decodeObject(event, &sub); err != nil {
		return nil, err
	}
	customerID := customerID(sub.Customer)
	if strings.TrimSpace(sub.ID) == "" || customerID == "" {
		return nil, billingeventdomain.ErrInvalidEvent
	}

	var flags struct {
		CancelAtPeriodEnd *bool `json:"cancel_at_period_end"`
	}
	if err := json.Unmarshal(event.Data.Raw, &flags); err != nil {
		return nil, billingeventdomain.ErrInvalidPayload
	}

	out := billingeventdomain.SubscriptionUpdated{
		SubscriptionID:     sub.ID,
		CustomerID:         customerID,
		Status:             string(sub.Status),
		CurrentPeriodStart: optionalTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   optionalTime(sub.CurrentPeriodEnd),
	}
	if flags.CancelAtPeriodEnd != nil {
		out.CancelAtPeriodEnd = billingeventdomain.Some(*flags.CancelAtPeriodEnd)
	}
	return out, nil
}

func parseSubscriptionDeleted(event stripego.Event) (billingeventdomain.Event, error) {
	var sub stripego.Subscription
	if err := decodeObject(event, &sub); err != nil {
		return nil, err
	}
	customerID := customerID(sub.Customer)
	if customerID == "" {
		return nil, billingeventdomain.ErrInvalidEvent
	}
	return billingeventdomain.SubscriptionDeleted{SubscriptionID: sub.ID, CustomerID: customerID}, nil
}

func parseInvoiceSucceeded(event stripego.Event) (billingeventdomain.Event, error) {
	var invoice stripego.Invoice
	if err := decodeObject(event, &invoice); err != nil {
		return nil, err
	}
	customerID := customerID(invoice.Customer)
	if strings.TrimSpace(invoice.ID) == "" || customerID == "" {
		return nil, billingeventdomain.ErrInvalidEvent
	}

	out := billingeventdomain.InvoicePaymentSucceeded{
		InvoiceID:  invoice.ID,
		CustomerID: customerID,
		AmountPaid: invoice.AmountPaid,
		Currency:   billingeventdomain.SomeString(strings.ToLower(strings.TrimSpace(string(invoice.Currency)))),
	}
	if invoice.Lines != nil && len(invoice.Lines.Data) > 0 && invoice.Lines.Data[0] != nil {
		if period := invoice.Lines.Data[0].Period; period != nil {
			out.PeriodStart = optionalTime(period.Start)
			out.PeriodEnd = optionalTime(period.End)
		}
	}
	return out, nil
}

func parseInvoiceFailed(event stripego.Event) (billingeventdomain.Event, error) {
	var invoice stripego.Invoice
	if err := decodeObject(event, &invoice); err != nil {
		return nil, err
	}
	customerID := customerID(invoice.Customer)
	if strings.TrimSpace(invoice.ID) == "" || customerID == "" {
		return nil, billingeventdomain.ErrInvalidEvent
	}
	return billingeventdomain.InvoicePaymentFailed{
		InvoiceID:  invoice.ID,
		CustomerID: customerID,
		AmountDue:  invoice.AmountDue,
		Currency:   billingeventdomain.SomeString(strings.ToLower(strings.TrimSpace(string(invoice.Currency)))),
	}, nil
}

func decodeObject(event stripego.Event, target any) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return billingeventdomain.ErrInvalidPayload
	}
	if err := json.Unmarshal(event.Data.Raw, target); err != nil {
		return billingeventdomain.ErrInvalidPayload
	}
	return nil
}

func customerID(customer *stripego.Customer) string {
	if customer == nil {
		return ""
	}
	return strings.TrimSpace(customer.ID)
}

func optionalTime(unix int64) billingeventdomain.Optional[time.Time] {
	if unix <= 0 {
		return billingeventdomain.None[time.Time]()
	}
	return billingeventdomain.Some(time.Unix(unix, 0).UTC())
}

func timestamp(value int64) time.Time {
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

// readMetadataValue returns the first non-blank value among keys.
func readMetadataValue(metadata map[string]string, keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(metadata[key]); value != "" {
			return value
		}
	}
	return ""
}
