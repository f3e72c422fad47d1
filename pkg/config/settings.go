package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/polsync/pkg/telemetry"
)

// DefaultSettingsFile is the settings file read when none is given.
const DefaultSettingsFile = "polsync.yaml"

// Settings is the application settings file.
type Settings struct {
	Store     StoreSettings     `yaml:"store"`
	Engine    EngineSettings    `yaml:"engine"`
	Policy    PolicySettings    `yaml:"policy"`
	Schemas   SchemaSettings    `yaml:"schemas"`
	Telemetry TelemetrySettings `yaml:"telemetry"`
}

// StoreSettings locates the sandbox database.
type StoreSettings struct {
	Path string `yaml:"path" validate:"required"`
}

// EngineSettings tunes batch runs.
type EngineSettings struct {
	// Parallelism is the number of concurrent reconciliations.
	Parallelism int `yaml:"parallelism" validate:"min=1,max=64"`

	// RateLimit caps collaborator calls per second. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`

	// Burst is the token bucket size.
	Burst int `yaml:"burst" validate:"gte=0"`

	// Timeout bounds a whole run. Zero means no timeout.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`

	// WatchDebounce is the quiet period before a watch run starts.
	WatchDebounce time.Duration `yaml:"watch_debounce" validate:"gte=0"`
}

// PolicySettings configures guardrail policies.
type PolicySettings struct {
	Enabled bool     `yaml:"enabled"`
	Paths   []string `yaml:"paths,omitempty" validate:"dive,required"`
	// Enable switches on loaded policies shipped with enabled: false.
	Enable []string `yaml:"enable,omitempty" validate:"dive,required"`
	// Disable names built-in or loaded policies to switch off. It wins
	// over Enable.
	Disable []string `yaml:"disable,omitempty" validate:"dive,required"`
}

// SchemaSettings lists extra resource schema definitions.
type SchemaSettings struct {
	Paths []string `yaml:"paths,omitempty" validate:"dive,required"`
}

// TelemetrySettings configures logging, tracing and metrics.
type TelemetrySettings struct {
	LogLevel  string          `yaml:"log_level" validate:"oneof=trace debug info warn error"`
	LogFormat string          `yaml:"log_format" validate:"oneof=console json"`
	Tracing   TracingSettings `yaml:"tracing"`
	Metrics   MetricsSettings `yaml:"metrics"`
}

// TracingSettings configures the span exporter.
type TracingSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint string `yaml:"endpoint,omitempty" validate:"required_if=Exporter otlp"`
}

// MetricsSettings configures the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address,omitempty" validate:"omitempty,hostname_port"`
}

// DefaultSettings returns the settings used when no file exists.
func DefaultSettings() *Settings {
	return &Settings{
		Store: StoreSettings{
			Path: ".polsync/sandbox.db",
		},
		Engine: EngineSettings{
			Parallelism:   4,
			RateLimit:     0,
			Burst:         1,
			WatchDebounce: 500 * time.Millisecond,
		},
		Policy: PolicySettings{
			Enabled: true,
		},
		Telemetry: TelemetrySettings{
			LogLevel:  "info",
			LogFormat: "console",
			Tracing: TracingSettings{
				Exporter: "none",
			},
			Metrics: MetricsSettings{
				Enabled: true,
			},
		},
	}
}

// LoadSettings reads a settings file over the defaults. A missing file
// yields the defaults when allowMissing is set.
func LoadSettings(path string, allowMissing bool) (*Settings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && allowMissing {
		return settings, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings %s: %w", path, err)
	}

	return settings, nil
}

// WriteSettings writes settings as YAML. An existing file is only replaced
// when overwrite is set.
func WriteSettings(path string, s *Settings, overwrite bool) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("settings file %s already exists", path)
		}
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

var settingsValidator = validator.New()

// Validate checks the settings' struct tags.
func (s *Settings) Validate() error {
	err := settingsValidator.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, len(fieldErrs))
	for i, fe := range fieldErrs {
		msgs[i] = fmt.Sprintf("%s: failed %q (value %v)", strings.TrimPrefix(fe.Namespace(), "Settings."), fe.Tag(), fe.Value())
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

// TelemetryConfig maps the settings onto a telemetry configuration.
func (s *Settings) TelemetryConfig(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if version != "" {
		cfg.ServiceVersion = version
	}
	cfg.Logging.Level = s.Telemetry.LogLevel
	cfg.Logging.Format = s.Telemetry.LogFormat

	cfg.Tracing.Enabled = s.Telemetry.Tracing.Enabled && s.Telemetry.Tracing.Exporter != "none"
	cfg.Tracing.Exporter = s.Telemetry.Tracing.Exporter
	cfg.Tracing.Endpoint = s.Telemetry.Tracing.Endpoint

	cfg.Metrics.Enabled = s.Telemetry.Metrics.Enabled
	cfg.Metrics.ListenAddress = s.Telemetry.Metrics.Address
	return cfg
}
