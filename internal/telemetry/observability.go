package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// ObservabilityConfig configures the OpenTelemetry providers a host wires
// around the pure kernel. Enabled defaults to false: a cycle run with no
// collector listening must never block or fail because of telemetry.
type ObservabilityConfig struct {
	ServiceName  string
	OTLPEndpoint string
	Insecure     bool
	Enabled      bool
}

// ObservabilityConfigFromEnv builds a config from OTEL_EXPORTER_OTLP_ENDPOINT,
// the conventional OTel SDK environment variable — telemetry switches on the
// moment a host points it at a real collector, off otherwise.
func ObservabilityConfigFromEnv() ObservabilityConfig {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	return ObservabilityConfig{
		ServiceName:  "rsak-kernel",
		OTLPEndpoint: endpoint,
		Insecure:     true,
		Enabled:      endpoint != "",
	}
}

// Provider holds the tracer/meter providers and the per-cycle RED metrics
// (rate, errors, duration) a host reports alongside the five log streams.
type Provider struct {
	config         ObservabilityConfig
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	cycleCounter    metric.Int64Counter
	rejectionCounter metric.Int64Counter
	cycleDuration   metric.Float64Histogram
}

// NewProvider builds a Provider. With cfg.Enabled false it returns a
// Provider whose StartCycleSpan/RecordCycle are no-ops, so callers never
// need a separate disabled-telemetry code path.
func NewProvider(ctx context.Context, cfg ObservabilityConfig) (*Provider, error) {
	p := &Provider{config: cfg}
	if !cfg.Enabled {
		return p, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	if err := p.initTrace(ctx, res); err != nil {
		return nil, err
	}
	if err := p.initMetric(ctx, res); err != nil {
		return nil, err
	}

	p.tracer = p.tracerProvider.Tracer("rsak-kernel")
	p.meter = p.meterProvider.Meter("rsak-kernel")
	return p, p.initMetrics()
}

func (p *Provider) initTrace(ctx context.Context, res *resource.Resource) error {
	var opts []otlptracegrpc.Option
	if p.config.OTLPEndpoint != "" {
		opts = append(opts, otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint))
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(p.tracerProvider)
	return nil
}

func (p *Provider) initMetric(ctx context.Context, res *resource.Resource) error {
	var opts []otlpmetricgrpc.Option
	if p.config.OTLPEndpoint != "" {
		opts = append(opts, otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint))
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("telemetry: metric exporter: %w", err)
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initMetrics() error {
	var err error
	p.cycleCounter, err = p.meter.Int64Counter("rsak.cycles.total",
		metric.WithDescription("Total cycles run by decision type"), metric.WithUnit("{cycle}"))
	if err != nil {
		return fmt.Errorf("telemetry: cycle counter: %w", err)
	}
	p.rejectionCounter, err = p.meter.Int64Counter("rsak.gate_rejections.total",
		metric.WithDescription("Admission gate rejections by code"), metric.WithUnit("{rejection}"))
	if err != nil {
		return fmt.Errorf("telemetry: rejection counter: %w", err)
	}
	p.cycleDuration, err = p.meter.Float64Histogram("rsak.cycle.duration",
		metric.WithDescription("Wall-clock duration of one RunCycle call"), metric.WithUnit("s"))
	if err != nil {
		return fmt.Errorf("telemetry: cycle duration: %w", err)
	}
	return nil
}

// Shutdown flushes and stops the providers. A no-op Provider returns nil.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return err
		}
	}
	if p.meterProvider != nil {
		return p.meterProvider.Shutdown(ctx)
	}
	return nil
}

// StartCycleSpan opens a span covering one RunCycle call. On a disabled
// Provider it returns ctx unchanged and a no-op span.
func (p *Provider) StartCycleSpan(ctx context.Context, cycleIndex int) (context.Context, trace.Span) {
	if p.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return p.tracer.Start(ctx, "rsak.cycle", trace.WithAttributes(attribute.Int("rsak.cycle_index", cycleIndex)))
}

// RecordCycle reports one completed cycle's decision type and duration.
func (p *Provider) RecordCycle(ctx context.Context, decisionType string, duration time.Duration) {
	if p.cycleCounter == nil {
		return
	}
	attrs := attribute.String("rsak.decision_type", decisionType)
	p.cycleCounter.Add(ctx, 1, metric.WithAttributes(attrs))
	p.cycleDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs))
}

// RecordRejection reports one admission-gate rejection by gate and code.
func (p *Provider) RecordRejection(ctx context.Context, gate, code string) {
	if p.rejectionCounter == nil {
		return
	}
	p.rejectionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("rsak.gate", gate),
		attribute.String("rsak.rejection_code", code),
	))
}
