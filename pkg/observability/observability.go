// Package observability wires OpenTelemetry tracing and RED metrics for the
// conformance evaluator. A nil or disabled *Provider is valid and records
// nothing beyond no-op spans from the global tracer.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "mplp-conform"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // e.g. "localhost:4317" for gRPC
	SampleRate     float64       // 0.0 to 1.0
	BatchTimeout   time.Duration // How long to wait before sending batched spans
	Enabled        bool
	Insecure       bool // Plaintext gRPC (dev only)
}

// DefaultConfig returns defaults with telemetry disabled.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "mplpc",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        false,
		Insecure:       true,
	}
}

// Provider manages OpenTelemetry trace and metric providers.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	requestCounter   metric.Int64Counter
	errorCounter     metric.Int64Counter
	durationHist     metric.Float64Histogram
	activeOperations metric.Int64UpDownCounter
	verdictCounter   metric.Int64Counter
}

// New creates a provider. With Enabled false it returns immediately.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.DebugContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = otel.Tracer(instrumentationName, trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter(instrumentationName, metric.WithInstrumentationVersion(config.ServiceVersion))

	if err := p.initREDMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init RED metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initREDMetrics() error {
	var err error

	p.requestCounter, err = p.meter.Int64Counter("mplpc.operations.total",
		metric.WithDescription("Total number of evaluation operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return err
	}

	p.errorCounter, err = p.meter.Int64Counter("mplpc.errors.total",
		metric.WithDescription("Total number of failed operations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	p.durationHist, err = p.meter.Float64Histogram("mplpc.operation.duration",
		metric.WithDescription("Operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return err
	}

	p.activeOperations, err = p.meter.Int64UpDownCounter("mplpc.operations.active",
		metric.WithDescription("Number of in-flight operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return err
	}

	p.verdictCounter, err = p.meter.Int64Counter("mplpc.verdicts.total",
		metric.WithDescription("Verdicts issued, by highest level reached"),
		metric.WithUnit("{verdict}"),
	)
	return err
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

// Meter returns the configured meter.
func (p *Provider) Meter() metric.Meter {
	if p == nil || p.meter == nil {
		return otel.Meter(instrumentationName)
	}
	return p.meter
}

// StartSpan starts a new span with the given name.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordVerdict counts an issued verdict by the highest level it reached.
func (p *Provider) RecordVerdict(ctx context.Context, level string, conformant bool) {
	if p == nil || p.verdictCounter == nil {
		return
	}
	p.verdictCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mplpc.level", level),
		attribute.Bool("mplpc.conformant", conformant),
	))
}

// TrackOperation starts a span and RED bookkeeping for one operation. Call
// the returned function with the operation's error when it completes.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)

	var red *Provider
	if p != nil && p.requestCounter != nil {
		red = p
	}
	if red != nil {
		red.activeOperations.Add(ctx, 1, metric.WithAttributes(attrs...))
		red.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	return ctx, func(err error) {
		if red != nil {
			red.activeOperations.Add(ctx, -1, metric.WithAttributes(attrs...))
			red.durationHist.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
			if err != nil {
				all := append(append([]attribute.KeyValue(nil), attrs...), attribute.String("error.type", fmt.Sprintf("%T", err)))
				red.errorCounter.Add(ctx, 1, metric.WithAttributes(all...))
			}
		}
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}
