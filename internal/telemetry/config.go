package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/tracewire/internal/config"
)

// Protocols accepted for the local collector.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http/protobuf"
)

var (
	// ErrMissingConnectionString is returned when the managed backend is
	// selected but no connection string was configured.
	ErrMissingConnectionString = errors.New("managed backend selected but telemetry.managed.connection_string is empty")

	// ErrInvalidConnectionString is returned when the connection string
	// cannot be parsed into an ingestion endpoint.
	ErrInvalidConnectionString = errors.New("invalid managed backend connection string")
)

// Config holds telemetry configuration.
type Config struct {
	// UseManagedBackend selects the managed cloud backend instead of the
	// local collector stack. Read once at startup.
	UseManagedBackend bool           `koanf:"use_managed_backend"`
	ServiceName       string         `koanf:"service_name"`
	ServiceVersion    string         `koanf:"service_version"`
	Environment       string         `koanf:"environment"`
	Protocol          string         `koanf:"protocol"`          // local collector only: grpc or http/protobuf
	Insecure          bool           `koanf:"insecure"`          // local collector only: plaintext
	TLSSkipVerify     bool           `koanf:"tls_skip_verify"`   // local collector only: internal CAs
	Local             LocalConfig    `koanf:"local"`
	Managed           ManagedConfig  `koanf:"managed"`
	Metrics           MetricsConfig  `koanf:"metrics"`
	Shutdown          ShutdownConfig `koanf:"shutdown"`
}

// LocalConfig addresses the local collector stack.
type LocalConfig struct {
	CollectorEndpoint     string `koanf:"collector_endpoint"`
	LogAggregatorEndpoint string `koanf:"log_aggregator_endpoint"`
}

// ManagedConfig addresses the managed cloud backend.
type ManagedConfig struct {
	ConnectionString config.Secret `koanf:"connection_string"`
}

// MetricsConfig controls OTLP metric export.
type MetricsConfig struct {
	ExportInterval config.Duration `koanf:"export_interval"`
}

// ShutdownConfig controls graceful shutdown behavior.
type ShutdownConfig struct {
	Timeout config.Duration `koanf:"timeout"`
}

// NewDefaultConfig returns defaults for a developer machine running the
// local collector stack.
func NewDefaultConfig() *Config {
	return &Config{
		UseManagedBackend: false,
		ServiceName:       "tracewire",
		ServiceVersion:    "0.1.0",
		Environment:       "development",
		Protocol:          ProtocolGRPC,
		Insecure:          true, // Insecure by default for local dev; set false for production TLS
		Local: LocalConfig{
			CollectorEndpoint:     "localhost:4317",
			LogAggregatorEndpoint: "http://localhost:5341/ingest/otlp",
		},
		Metrics: MetricsConfig{
			ExportInterval: config.Duration(15 * time.Second),
		},
		Shutdown: ShutdownConfig{
			Timeout: config.Duration(5 * time.Second),
		},
	}
}

// Validate checks configuration for errors. Any error here must stop the
// process before it accepts traffic.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}

	if c.Metrics.ExportInterval.Duration() <= 0 {
		return fmt.Errorf("metrics.export_interval must be positive")
	}

	if c.Shutdown.Timeout.Duration() <= 0 {
		return fmt.Errorf("shutdown.timeout must be positive")
	}

	if c.UseManagedBackend {
		if !c.Managed.ConnectionString.IsSet() {
			return ErrMissingConnectionString
		}
		if _, err := ParseConnectionString(c.Managed.ConnectionString.Value()); err != nil {
			return err
		}
		return nil
	}

	if c.Local.CollectorEndpoint == "" {
		return fmt.Errorf("local.collector_endpoint is required when the managed backend is disabled")
	}

	switch c.Protocol {
	case "", ProtocolGRPC, ProtocolHTTP:
	default:
		return fmt.Errorf("protocol must be %q or %q, got %q", ProtocolGRPC, ProtocolHTTP, c.Protocol)
	}

	// Security: Prevent insecure connections to remote endpoints
	if c.Insecure && !isLocalEndpoint(c.Local.CollectorEndpoint) {
		return fmt.Errorf("insecure connections to remote endpoints are not allowed; set insecure=false for TLS or use a local endpoint (localhost/127.0.0.1)")
	}

	return nil
}

// isLocalEndpoint checks if the endpoint is a loopback address.
func isLocalEndpoint(endpoint string) bool {
	host := stripScheme(endpoint)
	if i := strings.Index(host, "/"); i != -1 {
		host = host[:i]
	}

	// Handle IPv6 addresses (may be bracketed like [::1]:4317)
	if strings.HasPrefix(host, "[") {
		if idx := strings.Index(host, "]:"); idx != -1 {
			host = host[1:idx]
		} else if strings.HasSuffix(host, "]") {
			host = host[1 : len(host)-1]
		}
	} else if strings.Count(host, ":") == 1 {
		host = host[:strings.LastIndex(host, ":")]
	}

	return host == "localhost" ||
		host == "::1" ||
		strings.HasPrefix(host, "127.")
}
