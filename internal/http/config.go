package http

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/fyrsmithlabs/tracewire/internal/config"
)

// Config holds HTTP server configuration.
type Config struct {
	Host            string          `koanf:"host"`
	Port            int             `koanf:"port"`
	ShutdownTimeout config.Duration `koanf:"shutdown_timeout"`
	// MaxWorkDelay caps the delay accepted by /api/v1/work.
	MaxWorkDelay config.Duration `koanf:"max_work_delay"`
	// OutboundTimeout bounds /api/v1/outbound calls.
	OutboundTimeout config.Duration `koanf:"outbound_timeout"`
	// OutboundAllowedHosts lists the hosts /api/v1/outbound may call, as
	// "host" (any port) or "host:port". Empty disables the endpoint.
	OutboundAllowedHosts []string `koanf:"outbound_allowed_hosts"`
}

// NewDefaultConfig returns the default server configuration.
func NewDefaultConfig() *Config {
	return &Config{
		Host:            "",
		Port:            8080,
		ShutdownTimeout: config.Duration(10 * time.Second),
		MaxWorkDelay:    config.Duration(10 * time.Second),
		OutboundTimeout: config.Duration(5 * time.Second),
	}
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", c.Port)
	}
	if c.ShutdownTimeout.Duration() <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	if c.MaxWorkDelay.Duration() < 0 {
		return fmt.Errorf("max_work_delay must not be negative")
	}
	if c.OutboundTimeout.Duration() <= 0 {
		return fmt.Errorf("outbound_timeout must be positive")
	}
	for _, h := range c.OutboundAllowedHosts {
		if strings.TrimSpace(h) == "" || strings.Contains(h, "/") {
			return fmt.Errorf("outbound_allowed_hosts entries must be host or host:port, got %q", h)
		}
	}
	return nil
}

// outboundAllowed reports whether u's host is in OutboundAllowedHosts.
func (c *Config) outboundAllowed(u *url.URL) bool {
	for _, allowed := range c.OutboundAllowedHosts {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == strings.ToLower(u.Host) || allowed == strings.ToLower(u.Hostname()) {
			return true
		}
	}
	return false
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
