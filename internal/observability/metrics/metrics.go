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

type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics holds the OTLP business counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ordersCreated    metric.Int64Counter
	paymentsVerified metric.Int64Counter
	ledgerEntries    metric.Int64Counter
	creditsMoved     metric.Int64Counter
	quotaDenied      metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
	jobRuns          metric.Int64Counter
	jobErrors        metric.Int64Counter
	ledgerDrift      metric.Int64Counter
}

// NewProvider installs the global meter provider, or a noop one when disabled.
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
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}
	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "callsight"
	}
	meter := provider.Meter(name)

	var (
		m   Metrics
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.ordersCreated, "callsight_orders_created_total", "Gateway orders created by kind and currency."},
		{&m.paymentsVerified, "callsight_payments_verified_total", "Payment verifications by source and outcome."},
		{&m.ledgerEntries, "callsight_ledger_entries_total", "Credit ledger rows written by kind."},
		{&m.creditsMoved, "callsight_ledger_credits_total", "Absolute credits moved through the ledger by kind."},
		{&m.quotaDenied, "callsight_quota_denied_total", "Billable actions refused by quota resource."},
		{&m.rateLimitDenied, "callsight_rate_limit_denied_total", "Requests refused by the rate limiter."},
		{&m.jobRuns, "callsight_scheduler_job_runs_total", "Scheduler job runs by job."},
		{&m.jobErrors, "callsight_scheduler_job_errors_total", "Scheduler job failures by job and reason."},
		{&m.ledgerDrift, "callsight_ledger_drift_detected_total", "Organizations whose balance disagrees with the ledger sum."},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func (m *Metrics) RecordOrderCreated(ctx context.Context, kind, currency string) {
	if m == nil {
		return
	}
	m.ordersCreated.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("kind", kind),
		attribute.String("currency", currency),
	)...))
}

// RecordPaymentVerified counts one verification attempt; outcome is
// "credited", "already_processed" or a failure reason.
func (m *Metrics) RecordPaymentVerified(ctx context.Context, source, outcome string) {
	if m == nil {
		return
	}
	m.paymentsVerified.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("source", source),
		attribute.String("outcome", outcome),
	)...))
}

func (m *Metrics) RecordLedgerEntry(ctx context.Context, kind string, delta int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(attribute.String("kind", kind))...)
	m.ledgerEntries.Add(ctx, 1, attrs)
	if delta < 0 {
		delta = -delta
	}
	m.creditsMoved.Add(ctx, delta, attrs)
}

func (m *Metrics) RecordQuotaDenied(ctx context.Context, resource, tier string) {
	if m == nil {
		return
	}
	m.quotaDenied.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("resource", resource),
		attribute.String("org_tier", tier),
	)...))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("reason", reason),
	)...))
}

func (m *Metrics) RecordJobRun(ctx context.Context, job string) {
	if m == nil {
		return
	}
	m.jobRuns.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("job", job))...))
}

func (m *Metrics) RecordJobError(ctx context.Context, job, reason string) {
	if m == nil {
		return
	}
	m.jobErrors.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("job", job),
		attribute.String("reason", reason),
	)...))
}

func (m *Metrics) RecordLedgerDrift(ctx context.Context) {
	if m == nil {
		return
	}
	m.ledgerDrift.Add(ctx, 1)
}

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

// Org ids, user ids and payment ids are never metric labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"kind":     {},
	"currency": {},
	"source":   {},
	"outcome":  {},
	"resource": {},
	"org_tier": {},
	"endpoint": {},
	"reason":   {},
	"job":      {},
}

// FilterAttributes keeps only allowlisted low-cardinality labels and trims values.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		if attr.Value.Type() == attribute.STRING {
			attr = attribute.String(string(attr.Key), strings.TrimSpace(attr.Value.AsString()))
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
