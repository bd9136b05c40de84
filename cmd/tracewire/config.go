package main

import (
	"fmt"

	"github.com/fyrsmithlabs/tracewire/internal/config"
	httpserver "github.com/fyrsmithlabs/tracewire/internal/http"
	"github.com/fyrsmithlabs/tracewire/internal/identity"
	"github.com/fyrsmithlabs/tracewire/internal/logging"
	"github.com/fyrsmithlabs/tracewire/internal/telemetry"
)

// appConfig is the full process configuration. Each section is owned by
// the package that consumes it.
type appConfig struct {
	Telemetry *telemetry.Config  `koanf:"telemetry"`
	Server    *httpserver.Config `koanf:"server"`
	Logging   *logging.Config    `koanf:"logging"`
	Auth      *identity.Config   `koanf:"auth"`
}

func newDefaultAppConfig() *appConfig {
	return &appConfig{
		Telemetry: telemetry.NewDefaultConfig(),
		Server:    httpserver.NewDefaultConfig(),
		Logging:   logging.NewDefaultConfig(),
		Auth:      identity.NewDefaultConfig(),
	}
}

// Validate checks every section.
func (c *appConfig) Validate() error {
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	return nil
}

// loadConfig applies the file at path (optional) and the environment on
// top of the defaults.
func loadConfig(path string) (*appConfig, error) {
	cfg := newDefaultAppConfig()
	if err := config.Load(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
