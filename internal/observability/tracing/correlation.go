package tracing

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
	obscontext "github.com/smallbiznis/creditledger/internal/observability/context"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const CorrelationIDHeader = "X-Correlation-Id"

// EnsureCorrelationID returns ctx carrying a correlation id, minting a ULID when absent.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if cid := obscontext.CorrelationIDFromContext(ctx); cid != "" {
		return ctx, cid
	}
	cid := ulid.Make().String()
	return obscontext.WithCorrelationID(ctx, cid), cid
}

// ContextWithCorrelationID seeds ctx with an inbound id, or a fresh one when blank.
func ContextWithCorrelationID(ctx context.Context, inbound string) (context.Context, string) {
	if inbound = strings.TrimSpace(inbound); inbound != "" {
		return obscontext.WithCorrelationID(ctx, inbound), inbound
	}
	return EnsureCorrelationID(ctx)
}

type correlationSpanProcessor struct{}

func (correlationSpanProcessor) OnStart(ctx context.Context, s sdktrace.ReadWriteSpan) {
	_, cid := EnsureCorrelationID(ctx)
	s.SetAttributes(attribute.String("correlation_id", cid))
}

func (correlationSpanProcessor) OnEnd(sdktrace.ReadOnlySpan) {}

func (correlationSpanProcessor) Shutdown(context.Context) error { return nil }

func (correlationSpanProcessor) ForceFlush(context.Context) error { return nil }
