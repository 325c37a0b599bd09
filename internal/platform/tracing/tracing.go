// Package tracing configures OpenTelemetry and records publish spans.
package tracing

import (
	"context"
	"fmt"

	"github.com/pscheid92/marketpulse/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/pscheid92/marketpulse"

// Config selects the span exporter.
type Config struct {
	// Exporter is one of "none", "stdout" or "otlp".
	Exporter     string
	OTLPEndpoint string
	SampleRate   float64
	ServiceName  string
}

// Provider owns the SDK tracer provider. The zero value is a no-op.
type Provider struct {
	provider *sdktrace.TracerProvider
}

// NewProvider installs a global tracer provider for cfg. With exporter
// "none" the global no-op provider is left in place.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "none", "":
		return &Provider{}, nil
	case "stdout":
		exporter, err = stdouttrace.New()
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
	case "otlp":
		endpoint := cfg.OTLPEndpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported trace exporter %q", cfg.Exporter)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "marketpulse"
	}
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	return &Provider{provider: provider}, nil
}

func (p *Provider) Enabled() bool { return p.provider != nil }

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider == nil {
		return nil
	}
	return p.provider.Shutdown(ctx)
}

// Tracer returns the tracer of the current global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartPublish opens a span for one producer publish.
func StartPublish(ctx context.Context, source, channel, topic string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("marketpulse.source", source),
			attribute.String("marketpulse.channel", channel),
			attribute.String("marketpulse.topic", topic),
		),
	)
}

// EndPublish records the outcome and ends span.
func EndPublish(span trace.Span, res domain.PublishResult) {
	if res.Accepted {
		span.SetAttributes(attribute.Int64("marketpulse.seq", int64(res.Seq)))
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetAttributes(attribute.String("marketpulse.reason", string(res.Reason)))
		span.SetStatus(codes.Error, string(res.Reason))
	}
	span.End()
}
