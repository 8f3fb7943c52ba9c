// Package tracing wraps OpenTelemetry span handling for the vault.
//
// Spans go to the global tracer provider. Until Init installs an SDK
// provider the global one is a no-op, so instrumented code pays nothing.
package tracing

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/okian/vault"
	serviceName         = "vault"
)

// ErrInvalidSamplingRate is returned by Init for a rate outside [0, 1].
var ErrInvalidSamplingRate = errors.New("sampling rate must be between 0 and 1")

// Provider owns the SDK tracer provider installed by Init.
type Provider struct {
	tp *sdktrace.TracerProvider
}

type options struct {
	samplingRate float64
	exporter     sdktrace.SpanExporter
	otlp         []otlptracehttp.Option
}

// Option configures Init.
type Option func(*options)

// WithSamplingRate sets the fraction of traces to sample.
func WithSamplingRate(rate float64) Option {
	return func(o *options) { o.samplingRate = rate }
}

// WithExporter sends finished spans to exp synchronously.
func WithExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) { o.exporter = exp }
}

// WithOTLPEndpoint exports spans in batches to an OTLP/HTTP collector at
// endpoint (host:port). An empty endpoint leaves it to the exporter, which
// reads OTEL_EXPORTER_OTLP_* and falls back to localhost:4318.
func WithOTLPEndpoint(endpoint string, insecure bool) Option {
	return func(o *options) {
		o.otlp = []otlptracehttp.Option{}
		if endpoint != "" {
			o.otlp = append(o.otlp, otlptracehttp.WithEndpoint(endpoint))
		}
		if insecure {
			o.otlp = append(o.otlp, otlptracehttp.WithInsecure())
		}
	}
}

// Init installs an SDK tracer provider as the global provider.
func Init(opts ...Option) (*Provider, error) {
	o := options{samplingRate: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.samplingRate < 0 || o.samplingRate > 1 {
		return nil, fmt.Errorf("%w, got %f", ErrInvalidSamplingRate, o.samplingRate)
	}

	var sampler sdktrace.Sampler
	switch o.samplingRate {
	case 1:
		sampler = sdktrace.AlwaysSample()
	case 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(o.samplingRate)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	}
	if o.exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithSyncer(o.exporter))
	}
	if o.otlp != nil {
		// The HTTP client connects lazily, so creating it does not block.
		exp, err := otlptracehttp.New(context.Background(), o.otlp...)
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exp))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp}, nil
}

// Shutdown flushes and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// StartSpan starts an internal span named name.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpan completes a span, recording err when non-nil.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddEvent adds an event to the span in ctx, if it is recording.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
