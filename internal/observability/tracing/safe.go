package tracing

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

// Attribute keys that may be attached to spans. Anything else is dropped so
// payment details and customer emails never leave the process.
var allowedAttributes = map[attribute.Key]struct{}{
	"http.method":             {},
	"http.route":              {},
	"http.status_code":        {},
	"http.server_duration_ms": {},
	"request_id":              {},
	"correlation_id":          {},
	"account_id":              {},
	"billing.provider":        {},
	"billing.event_type":      {},
	"billing.tier":            {},
	"credit.action":           {},
	"credit.amount":           {},
}

// SafeAttributes filters attrs down to the allowlisted keys.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedAttributes[attr.Key]; ok {
			out = append(out, attr)
		}
	}
	return out
}

// SafeError strips an error down to its first line so wrapped provider
// responses are not recorded verbatim.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.TrimSpace(err.Error())
	if idx := strings.IndexByte(msg, '\n'); idx >= 0 {
		msg = msg[:idx]
	}
	if len(msg) > 256 {
		msg = msg[:256]
	}
	if msg == "" {
		msg = "error"
	}
	return errors.New(msg)
}

// ExtractContext pulls remote trace context from carrier into ctx.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
