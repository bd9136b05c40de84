package config

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// Load fills out from the YAML file at path and then from environment
// variables, and validates the result.
//
// out must be a pointer to a struct with koanf tags, pre-populated with
// defaults. Keys absent from every source keep their default value.
// An empty path skips the file layer.
//
// Environment variables are mapped by stripping EnvPrefix, lowercasing and
// turning "__" into a nesting level:
//
//	TRACEWIRE_SERVER__PORT                        -> server.port
//	TRACEWIRE_TELEMETRY__USE_MANAGED_BACKEND      -> telemetry.use_managed_backend
//	TRACEWIRE_TELEMETRY__LOCAL__COLLECTOR_ENDPOINT -> telemetry.local.collector_endpoint
//
// List values may be given as comma separated strings.
func Load(path string, out Validator) error {
	var content []byte
	if path != "" {
		var err error
		content, err = readConfigFile(path)
		if err != nil {
			return err
		}
	}
	return load(content, out)
}

// LoadBytes is Load for YAML content already in memory.
func LoadBytes(content []byte, out Validator) error {
	return load(content, out)
}

func load(content []byte, out Validator) error {
	k := koanf.New(".")

	if len(content) > 0 {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}

	err := k.UnmarshalWithConf("", out, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.TextUnmarshallerHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			WeaklyTypedInput: true,
			Result:           out,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := out.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// envKey maps TRACEWIRE_TELEMETRY__LOCAL__COLLECTOR_ENDPOINT to
// telemetry.local.collector_endpoint.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// readConfigFile opens path once and validates it through the open
// descriptor to avoid a TOCTOU race between the checks and the read.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigFileProperties rejects directories, oversized files and
// files other users can write to. The file may hold the managed backend
// connection string.
func validateConfigFileProperties(info os.FileInfo) error {
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", info.Name())
	}

	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm&0o022 != 0 {
			return fmt.Errorf("insecure config file permissions: %v (group/world writable)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
