// Tracewire serves an HTTP API whose every request is correlated across
// traces, metrics and logs.
//
// Configuration is loaded from an optional YAML file and TRACEWIRE_
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Serve against the local collector stack
//	tracewire
//
//	# Serve with a config file, reloading the log level on change
//	tracewire serve --config tracewire.yaml
//
//	# Export to the managed backend
//	TRACEWIRE_TELEMETRY__USE_MANAGED_BACKEND=true \
//	TRACEWIRE_TELEMETRY__MANAGED__CONNECTION_STRING='InstrumentationKey=...;IngestionEndpoint=https://...' \
//	tracewire serve
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/structs"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	serve := func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context(), configPath)
	}

	root := &cobra.Command{
		Use:   "tracewire",
		Short: "HTTP service with correlated traces, metrics and logs",
		Long: `tracewire serves an HTTP API behind a correlation pipeline: every request
gets a correlation id, a server span and a log context, and every response
carries trace-id, span-id and x-correlation-id headers.

Running tracewire without a subcommand is the same as "tracewire serve".`,
		Version:      version,
		SilenceUsage: true,
		RunE:         serve,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server and block until SIGINT or SIGTERM.

Examples:
  # Serve with defaults
  tracewire serve

  # Serve on another port
  TRACEWIRE_SERVER__PORT=9090 tracewire serve`,
		Args: cobra.NoArgs,
		RunE: serve,
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults, the config file and environment
variables have been applied. Secrets are redacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return printConfig(cmd.OutOrStdout(), cfg)
		},
	})

	return root
}

// printVersion prints version information
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "tracewire by Fyrsmith Labs\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}

// printConfig writes cfg as YAML. Secret and Duration values are rendered
// through their MarshalText methods.
func printConfig(w io.Writer, cfg *appConfig) error {
	m, err := structs.Provider(cfg, "koanf").Read()
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	out, err := yaml.Parser().Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	_, err = w.Write(out)
	return err
}
