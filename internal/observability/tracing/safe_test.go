package tracing

import (
	"context"
	"errors"
	"testing"

	obscontext "github.com/smallbiznis/creditledger/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsUnknownKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/api/plans"),
		attribute.String("customer.email", "a@example.com"),
		attribute.String("billing.tier", "PRO"),
	)

	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
	assert.Equal(t, attribute.Key("billing.tier"), attrs[1].Key)
}

func TestSafeErrorKeepsFirstLine(t *testing.T) {
	err := SafeError(errors.New("remote failed\nresponse body: {\"card\":\"4242\"}"))
	require.Error(t, err)
	assert.Equal(t, "remote failed", err.Error())
	assert.Nil(t, SafeError(nil))
}

func TestEnsureCorrelationIDIsStable(t *testing.T) {
	ctx, cid := EnsureCorrelationID(context.Background())
	require.NotEmpty(t, cid)
	assert.Equal(t, cid, obscontext.CorrelationIDFromContext(ctx))

	_, again := EnsureCorrelationID(ctx)
	assert.Equal(t, cid, again)

	_, inbound := ContextWithCorrelationID(context.Background(), " abc ")
	assert.Equal(t, "abc", inbound)
}
