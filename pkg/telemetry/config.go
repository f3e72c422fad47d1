package telemetry

import (
	"fmt"
	"time"
)

// Config holds the settings of every telemetry component.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string // trace, debug, info, warn, error or fatal
	Format string // console or json
	// Output is stderr, stdout or a file path.
	Output       string
	EnableCaller bool
	TimeFormat   string // unix, unixms or rfc3339
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled  bool
	Exporter string // otlp, stdout or none
	// Endpoint is the OTLP gRPC collector address, e.g. "localhost:4317".
	Endpoint           string
	SamplingRate       float64
	MaxExportBatchSize int
	ExportTimeout      time.Duration
	Headers            map[string]string
	Insecure           bool
}

// MetricsConfig configures the Prometheus collectors. The HTTP endpoint is
// only served when ListenAddress is set.
type MetricsConfig struct {
	Enabled                 bool
	ListenAddress           string
	Path                    string
	Namespace               string
	DefaultHistogramBuckets []float64
}

// EventsConfig configures the in-process event publisher.
type EventsConfig struct {
	Enabled     bool
	BufferSize  int
	EnableAsync bool
}

// DefaultConfig returns the CLI defaults: console logs on stderr, metrics
// collected but not served, tracing off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "polsync",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            map[string]string{},
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "polsync",
			DefaultHistogramBuckets: []float64{
				0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
			},
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 256,
		},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.ServiceName == "":
		return fmt.Errorf("service name is required")
	case c.ServiceVersion == "":
		return fmt.Errorf("service version is required")
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "stdout", "none":
		case "otlp":
			if c.Tracing.Endpoint == "" {
				return fmt.Errorf("otlp exporter requires an endpoint")
			}
		default:
			return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
		}
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}

	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got: %d", c.Events.BufferSize)
	}
	return nil
}
