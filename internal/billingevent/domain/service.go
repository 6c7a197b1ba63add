package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type AdapterConfig struct {
	WebhookSecret string
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}

// Adapter authenticates and decodes one provider's webhook deliveries.
type Adapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*Envelope, error)
}

type Repository interface {
	// InsertEvent reports false when the event is already in the inbox.
	InsertEvent(ctx context.Context, db *gorm.DB, record *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string, forUpdate bool) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
	ListPending(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int) ([]EventRecord, error)
}

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// Reconciler applies parsed events to local subscription, payment and ledger state.
type Reconciler interface {
	Process(ctx context.Context, env Envelope) (Outcome, error)
}

// Receipt is the acknowledgement returned to the provider.
type Receipt struct {
	Received bool `json:"received"`
}

type Ingress interface {
	HandleProviderEvent(ctx context.Context, provider string, payload []byte, headers http.Header) (Receipt, error)
	// ReplayPending reprocesses inbox rows that were stored but never applied.
	ReplayPending(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

var (
	ErrInvalidProvider  = errors.New("invalid_provider")
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidConfig    = errors.New("invalid_provider_config")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
)
