package domain

import "time"

type Kind string

const (
	KindCheckoutCompleted       Kind = "checkout_completed"
	KindSubscriptionUpdated     Kind = "subscription_updated"
	KindSubscriptionDeleted     Kind = "subscription_deleted"
	KindInvoicePaymentSucceeded Kind = "invoice_payment_succeeded"
	KindInvoicePaymentFailed    Kind = "invoice_payment_failed"
	KindUnknown                 Kind = "unknown"
)

// Event is the closed set of lifecycle notifications the reconciler understands.
type Event interface {
	Kind() Kind
	sealed()
}

type CheckoutCompleted struct {
	SessionID      string
	AccountID      Optional[string]
	Tier           Optional[string]
	CustomerID     Optional[string]
	SubscriptionID Optional[string]
}

type SubscriptionUpdated struct {
	SubscriptionID     string
	CustomerID         string
	Status             string
	CurrentPeriodStart Optional[time.Time]
	CurrentPeriodEnd   Optional[time.Time]
	CancelAtPeriodEnd  Optional[bool]
}

type SubscriptionDeleted struct {
	SubscriptionID string
	CustomerID     string
}

type InvoicePaymentSucceeded struct {
	InvoiceID   string
	CustomerID  string
	AmountPaid  int64
	Currency    Optional[string]
	PeriodStart Optional[time.Time]
	PeriodEnd   Optional[time.Time]
}

type InvoicePaymentFailed struct {
	InvoiceID  string
	CustomerID string
	AmountDue  int64
	Currency   Optional[string]
}

// Unknown carries event types nobody handles; they are acknowledged and dropped.
type Unknown struct {
	Type string
}

func (CheckoutCompleted) Kind() Kind       { return KindCheckoutCompleted }
func (SubscriptionUpdated) Kind() Kind     { return KindSubscriptionUpdated }
func (SubscriptionDeleted) Kind() Kind     { return KindSubscriptionDeleted }
func (InvoicePaymentSucceeded) Kind() Kind { return KindInvoicePaymentSucceeded }
func (InvoicePaymentFailed) Kind() Kind    { return KindInvoicePaymentFailed }
func (Unknown) Kind() Kind                 { return KindUnknown }

func (CheckoutCompleted) sealed()       {}
func (SubscriptionUpdated) sealed()     {}
func (SubscriptionDeleted) sealed()     {}
func (InvoicePaymentSucceeded) sealed() {}
func (InvoicePaymentFailed) sealed()    {}
func (Unknown) sealed()                 {}

// Envelope is an authenticated provider event plus its raw body.
type Envelope struct {
	Provider   string
	EventID    string
	EventType  string
	OccurredAt time.Time
	Payload    []byte
	Event      Event
}
