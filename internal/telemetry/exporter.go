package telemetry

import (
	"fmt"
	"net/url"
	"strings"
)

// Mode names the active exporter graph.
type Mode string

const (
	ModeLocal   Mode = "local"
	ModeManaged Mode = "managed"
)

// ExporterConfiguration is the exporter graph chosen at startup: either
// Local or Managed, never both. It is resolved once by ResolveExporter and
// then only read.
type ExporterConfiguration interface {
	Mode() Mode
	exporterConfiguration()
}

// Local sends traces, metrics and logs to an OTLP collector, and duplicates
// logs to a log aggregator that accepts OTLP over HTTP.
type Local struct {
	CollectorEndpoint     string
	LogAggregatorEndpoint string
	Protocol              string
	Insecure              bool
	TLSSkipVerify         bool
}

// Mode implements ExporterConfiguration.
func (Local) Mode() Mode { return ModeLocal }

func (Local) exporterConfiguration() {}

// Managed sends all three signals to a managed backend over OTLP/HTTPS.
type Managed struct {
	// Endpoint is the ingestion base URL; signal paths (/v1/traces, ...)
	// are appended to it.
	Endpoint string
	Headers  map[string]string
}

// Mode implements ExporterConfiguration.
func (Managed) Mode() Mode { return ModeManaged }

func (Managed) exporterConfiguration() {}

// ResolveExporter turns the configuration flag into exactly one exporter
// configuration.
func ResolveExporter(cfg *Config) (ExporterConfiguration, error) {
	if cfg.UseManagedBackend {
		if !cfg.Managed.ConnectionString.IsSet() {
			return nil, ErrMissingConnectionString
		}
		m, err := ParseConnectionString(cfg.Managed.ConnectionString.Value())
		if err != nil {
			return nil, err
		}
		return m, nil
	}

	protocol := cfg.Protocol
	if protocol == "" {
		protocol = ProtocolGRPC
	}
	return Local{
		CollectorEndpoint:     cfg.Local.CollectorEndpoint,
		LogAggregatorEndpoint: cfg.Local.LogAggregatorEndpoint,
		Protocol:              protocol,
		Insecure:              cfg.Insecure,
		TLSSkipVerify:         cfg.TLSSkipVerify,
	}, nil
}

// ParseConnectionString parses a managed backend connection string of the
// form
//
//	IngestionEndpoint=https://ingest.example.com;ApiKey=abc;Header.X-Tenant=acme
//
// Keys are case-insensitive and pairs are separated by ';'.
// IngestionEndpoint is required and must be an absolute https URL.
// ApiKey becomes an "Authorization: Bearer" header. Header.<Name> adds an
// arbitrary request header. Unknown keys are ignored so that connection
// strings issued with extra fields keep working.
func ParseConnectionString(s string) (Managed, error) {
	m := Managed{Headers: map[string]string{}}

	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return Managed{}, fmt.Errorf("%w: segment %q is not key=value", ErrInvalidConnectionString, redactSegment(part))
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch {
		case strings.EqualFold(key, "IngestionEndpoint"):
			m.Endpoint = strings.TrimRight(value, "/")
		case strings.EqualFold(key, "ApiKey"):
			m.Headers["Authorization"] = "Bearer " + value
		case len(key) > len("Header.") && strings.EqualFold(key[:len("Header.")], "Header."):
			m.Headers[key[len("Header."):]] = value
		}
	}

	if m.Endpoint == "" {
		return Managed{}, fmt.Errorf("%w: IngestionEndpoint is required", ErrInvalidConnectionString)
	}
	u, err := url.Parse(m.Endpoint)
	if err != nil || u.Host == "" {
		return Managed{}, fmt.Errorf("%w: IngestionEndpoint is not an absolute URL", ErrInvalidConnectionString)
	}
	if u.Scheme != "https" {
		return Managed{}, fmt.Errorf("%w: IngestionEndpoint must use https", ErrInvalidConnectionString)
	}

	return m, nil
}

// redactSegment keeps error messages free of credential material.
func redactSegment(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}

// signalURL appends an OTLP signal path (e.g. "/v1/logs") to a base URL.
func signalURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

// stripScheme removes http:// or https:// from an endpoint URL.
// The OTEL HTTP exporters expect just host:port, not full URLs.
func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return endpoint
}
