package telemetry

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc/credentials"
)

// newResource creates a resource describing the service.
func newResource(cfg *Config) (*resource.Resource, error) {
	// Note: We create a standalone resource to avoid schema URL conflicts
	// with resource.Default() which uses a different semconv version
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	), nil
}

// newTracerProvider creates a TracerProvider exporting to the selected backend.
// Every span is recorded: the sampler is AlwaysSample in both modes.
func newTracerProvider(ctx context.Context, exp ExporterConfiguration, res *resource.Resource, opts *options) (*trace.TracerProvider, error) {
	exporter := opts.spanExporter
	if exporter == nil {
		var err error
		exporter, err = newSpanExporter(ctx, exp)
		if err != nil {
			return nil, fmt.Errorf("creating trace exporter: %w", err)
		}
	}

	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.AlwaysSample()),
	), nil
}

func newSpanExporter(ctx context.Context, exp ExporterConfiguration) (trace.SpanExporter, error) {
	switch e := exp.(type) {
	case Local:
		if e.Protocol == ProtocolHTTP {
			opts := []otlptracehttp.Option{
				otlptracehttp.WithEndpoint(stripScheme(e.CollectorEndpoint)),
			}
			if e.Insecure {
				opts = append(opts, otlptracehttp.WithInsecure())
			} else if e.TLSSkipVerify {
				opts = append(opts, otlptracehttp.WithTLSClientConfig(skipVerifyTLS()))
			}
			return otlptracehttp.New(ctx, opts...)
		}
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(e.CollectorEndpoint),
		}
		if e.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		} else if e.TLSSkipVerify {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(skipVerifyTLS())))
		}
		return otlptracegrpc.New(ctx, opts...)
	case Managed:
		return otlptracehttp.New(ctx,
			otlptracehttp.WithEndpointURL(signalURL(e.Endpoint, "/v1/traces")),
			otlptracehttp.WithHeaders(e.Headers),
			otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
		)
	default:
		return nil, fmt.Errorf("unsupported exporter configuration %T", exp)
	}
}

// newMeterProvider creates a MeterProvider with two readers: a periodic OTLP
// push to the selected backend and a Prometheus pull reader backing the
// scrape endpoint.
func newMeterProvider(ctx context.Context, exp ExporterConfiguration, cfg *Config, res *resource.Resource, reg *prometheus.Registry, opts *options) (*metric.MeterProvider, error) {
	exporter := opts.metricExporter
	if exporter == nil {
		var err error
		exporter, err = newMetricExporter(ctx, exp)
		if err != nil {
			return nil, fmt.Errorf("creating metric exporter: %w", err)
		}
	}

	promReader, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("creating prometheus reader: %w", err)
	}

	return metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(
			metric.NewPeriodicReader(
				exporter,
				metric.WithInterval(cfg.Metrics.ExportInterval.Duration()),
			),
		),
		metric.WithReader(promReader),
	), nil
}

// cumulativeSelector is required for Prometheus-compatible backends. It also
// overrides OTEL_EXPORTER_OTLP_METRICS_TEMPORALITY_PREFERENCE inherited from
// a parent process.
func cumulativeSelector(metric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func newMetricExporter(ctx context.Context, exp ExporterConfiguration) (metric.Exporter, error) {
	switch e := exp.(type) {
	case Local:
		if e.Protocol == ProtocolHTTP {
			opts := []otlpmetrichttp.Option{
				otlpmetrichttp.WithEndpoint(stripScheme(e.CollectorEndpoint)),
				otlpmetrichttp.WithTemporalitySelector(cumulativeSelector),
			}
			if e.Insecure {
				opts = append(opts, otlpmetrichttp.WithInsecure())
			} else if e.TLSSkipVerify {
				opts = append(opts, otlpmetrichttp.WithTLSClientConfig(skipVerifyTLS()))
			}
			return otlpmetrichttp.New(ctx, opts...)
		}
		opts := []otlpmetricgrpc.Option{
			otlpmetricgrpc.WithEndpoint(e.CollectorEndpoint),
			otlpmetricgrpc.WithTemporalitySelector(cumulativeSelector),
		}
		if e.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		} else if e.TLSSkipVerify {
			opts = append(opts, otlpmetricgrpc.WithTLSCredentials(credentials.NewTLS(skipVerifyTLS())))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	case Managed:
		return otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpointURL(signalURL(e.Endpoint, "/v1/metrics")),
			otlpmetrichttp.WithHeaders(e.Headers),
			otlpmetrichttp.WithCompression(otlpmetrichttp.GzipCompression),
			otlpmetrichttp.WithTemporalitySelector(cumulativeSelector),
		)
	default:
		return nil, fmt.Errorf("unsupported exporter configuration %T", exp)
	}
}

// newLoggerProvider creates a LoggerProvider with one batch processor per
// log exporter.
func newLoggerProvider(ctx context.Context, exp ExporterConfiguration, res *resource.Resource, opts *options) (*sdklog.LoggerProvider, error) {
	exporters := opts.logExporters
	if len(exporters) == 0 {
		var err error
		exporters, err = newLogExporters(ctx, exp)
		if err != nil {
			return nil, fmt.Errorf("creating log exporters: %w", err)
		}
	}

	providerOpts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
	for _, e := range exporters {
		providerOpts = append(providerOpts, sdklog.WithProcessor(sdklog.NewBatchProcessor(e)))
	}
	return sdklog.NewLoggerProvider(providerOpts...), nil
}

// newLogExporters returns the log sinks for the exporter graph. Local mode
// yields the collector plus the log aggregator (when configured); managed
// mode yields the managed backend only.
func newLogExporters(ctx context.Context, exp ExporterConfiguration) ([]sdklog.Exporter, error) {
	switch e := exp.(type) {
	case Local:
		collector, err := newCollectorLogExporter(ctx, e)
		if err != nil {
			return nil, err
		}
		exporters := []sdklog.Exporter{collector}

		if e.LogAggregatorEndpoint != "" {
			aggregator, err := otlploghttp.New(ctx,
				otlploghttp.WithEndpointURL(signalURL(e.LogAggregatorEndpoint, "/v1/logs")),
			)
			if err != nil {
				return nil, fmt.Errorf("log aggregator exporter: %w", err)
			}
			exporters = append(exporters, aggregator)
		}
		return exporters, nil
	case Managed:
		managed, err := otlploghttp.New(ctx,
			otlploghttp.WithEndpointURL(signalURL(e.Endpoint, "/v1/logs")),
			otlploghttp.WithHeaders(e.Headers),
			otlploghttp.WithCompression(otlploghttp.GzipCompression),
		)
		if err != nil {
			return nil, fmt.Errorf("managed log exporter: %w", err)
		}
		return []sdklog.Exporter{managed}, nil
	default:
		return nil, fmt.Errorf("unsupported exporter configuration %T", exp)
	}
}

func newCollectorLogExporter(ctx context.Context, e Local) (sdklog.Exporter, error) {
	if e.Protocol == ProtocolHTTP {
		opts := []otlploghttp.Option{
			otlploghttp.WithEndpoint(stripScheme(e.CollectorEndpoint)),
		}
		if e.Insecure {
			opts = append(opts, otlploghttp.WithInsecure())
		} else if e.TLSSkipVerify {
			opts = append(opts, otlploghttp.WithTLSClientConfig(skipVerifyTLS()))
		}
		return otlploghttp.New(ctx, opts...)
	}
	opts := []otlploggrpc.Option{
		otlploggrpc.WithEndpoint(e.CollectorEndpoint),
	}
	if e.Insecure {
		opts = append(opts, otlploggrpc.WithInsecure())
	} else if e.TLSSkipVerify {
		opts = append(opts, otlploggrpc.WithTLSCredentials(credentials.NewTLS(skipVerifyTLS())))
	}
	return otlploggrpc.New(ctx, opts...)
}

// skipVerifyTLS is used for collectors behind internal CAs.
func skipVerifyTLS() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // User explicitly requested
	}
}

// Option overrides parts of the exporter graph (for testing).
type Option func(*options)

type options struct {
	spanExporter   trace.SpanExporter
	metricExporter metric.Exporter
	logExporters   []sdklog.Exporter
}

// WithSpanExporter overrides the default OTLP span exporter.
func WithSpanExporter(exp trace.SpanExporter) Option {
	return func(o *options) {
		o.spanExporter = exp
	}
}

// WithMetricExporter overrides the default OTLP metric exporter.
func WithMetricExporter(exp metric.Exporter) Option {
	return func(o *options) {
		o.metricExporter = exp
	}
}

// WithLogExporter replaces the default log exporters. Repeat to add more.
func WithLogExporter(exp sdklog.Exporter) Option {
	return func(o *options) {
		o.logExporters = append(o.logExporters, exp)
	}
}
