package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes the domain instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	billingEvents   metric.Int64Counter
	creditsGranted  metric.Int64Counter
	creditsDeducted metric.Int64Counter
	deductOutcomes  metric.Int64Counter
	remoteCalls     metric.Int64Counter
	remoteLatency   metric.Float64Histogram
	rateLimited     metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}
	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}
	return provider, nil
}

// New registers the domain instruments on provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "creditledger"
	}
	meter := provider.Meter(name)

	var (
		m   Metrics
		err error
	)
	if m.billingEvents, err = meter.Int64Counter("creditledger_billing_events_total"); err != nil {
		return nil, err
	}
	if m.creditsGranted, err = meter.Int64Counter("creditledger_credits_granted_total"); err != nil {
		return nil, err
	}
	if m.creditsDeducted, err = meter.Int64Counter("creditledger_credits_deducted_total"); err != nil {
		return nil, err
	}
	if m.deductOutcomes, err = meter.Int64Counter("creditledger_deductions_total"); err != nil {
		return nil, err
	}
	if m.remoteCalls, err = meter.Int64Counter("creditledger_billing_remote_calls_total"); err != nil {
		return nil, err
	}
	if m.remoteLatency, err = meter.Float64Histogram("creditledger_billing_remote_call_seconds", metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.rateLimited, err = meter.Int64Counter("creditledger_rate_limited_total"); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordBillingEvent counts a processed provider event by outcome.
func (m *Metrics) RecordBillingEvent(ctx context.Context, provider, eventType, outcome string) {
	if m == nil {
		return
	}
	m.billingEvents.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)...))
}

// RecordCreditGrant adds amount to the granted credits counter.
func (m *Metrics) RecordCreditGrant(ctx context.Context, sourceType string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.creditsGranted.Add(ctx, amount, metric.WithAttributes(FilterAttributes(
		attribute.String("source_type", strings.TrimSpace(sourceType)),
	)...))
}

// RecordDeduction counts a deduct attempt and, when it succeeded, the credits spent.
func (m *Metrics) RecordDeduction(ctx context.Context, action, outcome string, amount int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(
		attribute.String("action", strings.TrimSpace(action)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)...)
	m.deductOutcomes.Add(ctx, 1, attrs)
	if outcome == OutcomeOK && amount > 0 {
		m.creditsDeducted.Add(ctx, amount, attrs)
	}
}

// RecordRemoteCall records a call to the payment provider.
func (m *Metrics) RecordRemoteCall(ctx context.Context, operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	attrs := metric.WithAttributes(FilterAttributes(
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("outcome", outcome),
	)...)
	m.remoteCalls.Add(ctx, 1, attrs)
	m.remoteLatency.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordRateLimited counts a request rejected by a limiter.
func (m *Metrics) RecordRateLimited(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	m.rateLimited.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)...))
}

const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeRejected  = "rejected"
)

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Account ids are deliberately absent: they would explode cardinality.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"tier":        {},
	"endpoint":    {},
	"status_code": {},
	"action":      {},
	"provider":    {},
	"event_type":  {},
	"source_type": {},
	"operation":   {},
	"outcome":     {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; ok {
			filtered = append(filtered, attr)
		}
	}
	return filtered
}
