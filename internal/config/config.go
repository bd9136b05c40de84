// Package config provides configuration loading for tracewire.
//
// Configuration is assembled from three layers, highest precedence first:
//  1. Environment variables (TRACEWIRE_ prefix, "__" between nesting levels)
//  2. YAML config file (--config)
//  3. Defaults supplied by the caller's struct
//
// Each component package owns its own configuration struct; this package only
// knows how to fill them and how to watch the file for changes.
package config

// EnvPrefix is the prefix shared by all tracewire environment variables.
const EnvPrefix = "TRACEWIRE_"

// Validator is implemented by configuration structs that can check themselves.
type Validator interface {
	Validate() error
}
