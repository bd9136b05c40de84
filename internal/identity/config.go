package identity

import (
	"fmt"

	"github.com/fyrsmithlabs/tracewire/internal/config"
)

// minSecretLen is the shortest accepted HS256 key.
const minSecretLen = 32

// Config controls bearer token verification. With no secret configured
// every request is anonymous.
type Config struct {
	JWTSecret config.Secret `koanf:"jwt_secret"`
	Issuer    string        `koanf:"issuer"`
}

// NewDefaultConfig returns a configuration with verification disabled.
func NewDefaultConfig() *Config {
	return &Config{}
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.JWTSecret.IsSet() && len(c.JWTSecret.Value()) < minSecretLen {
		return fmt.Errorf("jwt_secret must be at least %d bytes", minSecretLen)
	}
	if c.Issuer != "" && !c.JWTSecret.IsSet() {
		return fmt.Errorf("issuer requires jwt_secret")
	}
	return nil
}

// Enabled reports whether bearer tokens are verified.
func (c *Config) Enabled() bool {
	return c != nil && c.JWTSecret.IsSet()
}
