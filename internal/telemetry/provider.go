package telemetry

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Option overrides parts of provider construction.
type Option func(*providerOptions)

type providerOptions struct {
	spanExporter   trace.SpanExporter
	metricExporter metric.Exporter
	metricReader   metric.Reader
}

// WithTraceExporter replaces the OTLP span exporter.
func WithTraceExporter(exp trace.SpanExporter) Option {
	return func(o *providerOptions) { o.spanExporter = exp }
}

// WithMetricExporter replaces the OTLP metric exporter.
func WithMetricExporter(exp metric.Exporter) Option {
	return func(o *providerOptions) { o.metricExporter = exp }
}

// WithMetricReader replaces the periodic reader, for example with a
// manual reader in tests.
func WithMetricReader(r metric.Reader) Option {
	return func(o *providerOptions) { o.metricReader = r }
}

func newResource(cfg *Config) *resource.Resource {
	// Standalone resource; resource.Default() carries a different schema URL.
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	)
}

func newSampler(rate float64) trace.Sampler {
	var s trace.Sampler
	switch {
	case rate >= 1:
		s = trace.AlwaysSample()
	case rate <= 0:
		s = trace.NeverSample()
	default:
		s = trace.TraceIDRatioBased(rate)
	}
	return trace.ParentBased(s)
}

func newTracerProvider(ctx context.Context, cfg *Config, res *resource.Resource, po *providerOptions) (*trace.TracerProvider, error) {
	exporter := po.spanExporter
	if exporter == nil {
		var err error
		switch cfg.Protocol {
		case ProtocolHTTP:
			opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(stripScheme(cfg.Endpoint))}
			if cfg.Insecure {
				opts = append(opts, otlptracehttp.WithInsecure())
			}
			exporter, err = otlptracehttp.New(ctx, opts...)
		default:
			opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(stripScheme(cfg.Endpoint))}
			if cfg.Insecure {
				opts = append(opts, otlptracegrpc.WithInsecure())
			}
			exporter, err = otlptracegrpc.New(ctx, opts...)
		}
		if err != nil {
			return nil, fmt.Errorf("creating trace exporter: %w", err)
		}
	}

	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(newSampler(cfg.SampleRate)),
	), nil
}

func newMeterProvider(ctx context.Context, cfg *Config, res *resource.Resource, po *providerOptions) (*metric.MeterProvider, error) {
	reader := po.metricReader
	if reader == nil {
		exporter := po.metricExporter
		if exporter == nil {
			// Cumulative temporality for Prometheus-compatible backends.
			cumulative := func(metric.InstrumentKind) metricdata.Temporality {
				return metricdata.CumulativeTemporality
			}
			var err error
			switch cfg.Protocol {
			case ProtocolHTTP:
				opts := []otlpmetrichttp.Option{
					otlpmetrichttp.WithEndpoint(stripScheme(cfg.Endpoint)),
					otlpmetrichttp.WithTemporalitySelector(cumulative),
				}
				if cfg.Insecure {
					opts = append(opts, otlpmetrichttp.WithInsecure())
				}
				exporter, err = otlpmetrichttp.New(ctx, opts...)
			default:
				opts := []otlpmetricgrpc.Option{
					otlpmetricgrpc.WithEndpoint(stripScheme(cfg.Endpoint)),
					otlpmetricgrpc.WithTemporalitySelector(cumulative),
				}
				if cfg.Insecure {
					opts = append(opts, otlpmetricgrpc.WithInsecure())
				}
				exporter, err = otlpmetricgrpc.New(ctx, opts...)
			}
			if err != nil {
				return nil, fmt.Errorf("creating metric exporter: %w", err)
			}
		}
		reader = metric.NewPeriodicReader(exporter, metric.WithInterval(cfg.ExportInterval))
	}

	return metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(reader),
	), nil
}

// stripScheme removes http:// or https://. The OTLP exporters expect
// host:port.
func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimPrefix(endpoint, "http://")
}
