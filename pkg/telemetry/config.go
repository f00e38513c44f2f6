package telemetry

import (
	"fmt"
	"time"
)

// Config is the telemetry configuration for meshgate.
type Config struct {
	// ServiceName identifies this binary in exported telemetry.
	ServiceName string

	// ServiceVersion is the build version.
	ServiceVersion string

	// Environment is the deployment environment (dev, staging, prod).
	Environment string

	// Logging configures structured logging.
	Logging LoggingConfig

	// Tracing configures distributed tracing.
	Tracing TracingConfig

	// Metrics configures the Prometheus registry and endpoint.
	Metrics MetricsConfig

	// Events configures the in-process event publisher.
	Events EventsConfig
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string

	// Format is console or json.
	Format string

	// Output is stdout, stderr, or a file path.
	Output string

	// EnableCaller adds file:line caller information.
	EnableCaller bool
}

// TracingConfig configures distributed tracing.
type TracingConfig struct {
	// Enabled controls whether tracing is active.
	Enabled bool

	// Exporter is otlp, stdout, or none.
	Exporter string

	// Endpoint is the OTLP gRPC endpoint.
	Endpoint string

	// SamplingRate is the trace sampling rate (0.0 to 1.0).
	SamplingRate float64

	// ExportTimeout bounds trace export.
	ExportTimeout time.Duration

	// Headers are extra headers for the OTLP exporter.
	Headers map[string]string

	// Insecure disables TLS for the exporter connection.
	Insecure bool
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool

	// ListenAddress is the address for the metrics HTTP endpoint. Empty
	// disables the server; the registry still collects.
	ListenAddress string

	// Path is the HTTP path for metrics.
	Path string

	// Namespace is the metrics namespace prefix.
	Namespace string
}

// EventsConfig configures the event publishing system.
type EventsConfig struct {
	// Enabled controls whether event publishing is active.
	Enabled bool

	// BufferSize is the size of the async event buffer.
	BufferSize int

	// Async delivers events off the workflow goroutine.
	Async bool
}

// DefaultConfig returns the default telemetry configuration: console
// logging, no tracing export, metrics collected but not served.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "meshgate",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Enabled:       false,
			Exporter:      "none",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
			Headers:       map[string]string{},
			Insecure:      true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "meshgate",
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 256,
			Async:      false,
		},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	validExporters := map[string]bool{"otlp": true, "stdout": true, "none": true}
	if c.Tracing.Enabled && !validExporters[c.Tracing.Exporter] {
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}

	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got: %d", c.Events.BufferSize)
	}
	return nil
}
