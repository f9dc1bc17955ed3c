// Package config loads op-bridge settings from YAML and the environment.
package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	opbridge "github.com/wippyai/op-bridge"
	"github.com/wippyai/op-bridge/errors"
)

// Library backends.
const (
	BackendAuto   = "auto"
	BackendNative = "native"
	BackendWasm   = "wasm"
)

// Environment overrides, applied after the file.
const (
	EnvToken    = "OP_SERVICE_ACCOUNT_TOKEN"
	EnvLibrary  = "OPBRIDGE_LIBRARY"
	EnvBackend  = "OPBRIDGE_BACKEND"
	EnvLogLevel = "OPBRIDGE_LOG_LEVEL"
)

// Config is the complete op-bridge configuration.
type Config struct {
	Library LibraryConfig `yaml:"library"`
	Client  ClientConfig  `yaml:"client"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`

	// Timeout bounds every command. Zero means no timeout.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// LibraryConfig selects and locates the SDK core.
type LibraryConfig struct {
	// Path is the shared library or wasm module. Empty uses the platform
	// default library name.
	Path    string `yaml:"path"`
	Backend string `yaml:"backend" validate:"oneof=auto native wasm"`

	// MemoryLimitPages caps guest memory for the wasm backend.
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`
	// CacheDir persists compiled wasm between runs.
	CacheDir string `yaml:"cache_dir"`
}

// ClientConfig identifies the integration to the core.
type ClientConfig struct {
	Token              string `yaml:"token"`
	IntegrationName    string `yaml:"integration_name" validate:"required"`
	IntegrationVersion string `yaml:"integration_version" validate:"required"`
	// Sync uses the blocking entry points instead of futures.
	Sync bool `yaml:"sync"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// MetricsConfig configures the prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr      string `yaml:"addr" validate:"omitempty,hostname_port"`
	Namespace string `yaml:"namespace" validate:"required"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Exporter     string  `yaml:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint     string  `yaml:"endpoint" validate:"required_if=Exporter otlp"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Library: LibraryConfig{Backend: BackendAuto},
		Client: ClientConfig{
			IntegrationName:    "op-bridge",
			IntegrationVersion: opbridge.Version,
		},
		Log:     LogConfig{Level: "info", Format: "console"},
		Metrics: MetricsConfig{Namespace: "opbridge"},
		Tracing: TracingConfig{Exporter: "none", SamplingRate: 1.0},
		Timeout: 30 * time.Second,
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error when path is empty.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "read config")
		}
		if err := Decode(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}

	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Decode parses YAML into cfg, rejecting unknown keys.
func Decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !stderrors.Is(err, io.EOF) {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "decode config")
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvToken); ok {
		c.Client.Token = v
	}
	if v, ok := lookup(EnvLibrary); ok && v != "" {
		c.Library.Path = v
	}
	if v, ok := lookup(EnvBackend); ok && v != "" {
		c.Library.Backend = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports every invalid field.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) {
			return &ValidationError{Fields: verrs}
		}
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

// ValidationError lists the fields that failed validation.
type ValidationError struct {
	Fields validator.ValidationErrors
}

func (e *ValidationError) Error() string {
	var b bytes.Buffer
	b.WriteString("invalid config:")
	for _, f := range e.Fields {
		fmt.Fprintf(&b, " %s (%s", f.Namespace(), f.Tag())
		if f.Param() != "" {
			fmt.Fprintf(&b, "=%s", f.Param())
		}
		b.WriteString(");")
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error {
	return e.Fields
}

// IsNotExist reports whether err is a missing config file.
func IsNotExist(err error) bool {
	return stderrors.Is(err, fs.ErrNotExist)
}
