package telemetry

import (
	"fmt"
	"time"
)

// Config contains the telemetry configuration of the resolution engine.
type Config struct {
	// ServiceName is the name reported in traces.
	ServiceName string `json:"service_name" validate:"required"`

	// ServiceVersion is the version reported in traces.
	ServiceVersion string `json:"service_version" validate:"required"`

	// Environment names the deployment (test bed, point1, development).
	Environment string `json:"environment,omitempty"`

	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
	Metrics MetricsConfig `json:"metrics"`
	Events  EventsConfig  `json:"events"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error, fatal).
	Level string `json:"level" validate:"oneof=trace debug info warn error fatal"`

	// Format specifies the log format (console, json).
	Format string `json:"format" validate:"oneof=console json"`

	// Output specifies where logs are written (stdout, stderr, file path).
	Output string `json:"output" validate:"required"`

	// EnableCaller adds file:line caller information to logs.
	EnableCaller bool `json:"enable_caller,omitempty"`

	// EnableSampling enables log sampling for high-frequency logs.
	EnableSampling bool `json:"enable_sampling,omitempty"`

	// SamplingInitial is the number of messages logged per second initially.
	SamplingInitial int `json:"sampling_initial,omitempty"`

	// SamplingThereafter logs every Nth message after the initial sample.
	SamplingThereafter int `json:"sampling_thereafter,omitempty"`

	// TimeFormat specifies the timestamp format (unix, unixms, rfc3339).
	TimeFormat string `json:"time_format,omitempty"`
}

// TracingConfig configures tracing of engine calls.
type TracingConfig struct {
	Enabled bool `json:"enabled"`

	// Exporter specifies the trace exporter (otlp, stdout, none).
	Exporter string `json:"exporter" validate:"omitempty,oneof=otlp stdout none"`

	// Endpoint is the OTLP collector address.
	Endpoint string `json:"endpoint,omitempty"`

	// SamplingRate is the trace sampling rate (0.0 to 1.0).
	SamplingRate float64 `json:"sampling_rate" validate:"gte=0,lte=1"`

	MaxExportBatchSize int `json:"max_export_batch_size,omitempty"`

	// ExportTimeoutSeconds bounds one export call.
	ExportTimeoutSeconds int `json:"export_timeout_seconds,omitempty"`

	// Headers are additional headers for the OTLP exporter.
	Headers map[string]string `json:"headers,omitempty"`

	// Insecure disables TLS for the exporter connection.
	Insecure bool `json:"insecure,omitempty"`
}

// ExportTimeout returns the configured export timeout.
func (c TracingConfig) ExportTimeout() time.Duration {
	if c.ExportTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ExportTimeoutSeconds) * time.Second
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	Enabled bool `json:"enabled"`

	// ListenAddress is the address of the metrics HTTP endpoint.
	ListenAddress string `json:"listen_address,omitempty"`

	// Path is the HTTP path for metrics (default: /metrics).
	Path string `json:"path,omitempty"`

	// Namespace is the metrics namespace prefix.
	Namespace string `json:"namespace,omitempty"`

	// DefaultHistogramBuckets are the latency buckets in seconds.
	DefaultHistogramBuckets []float64 `json:"buckets,omitempty"`
}

// EventsConfig configures the cache event publisher.
type EventsConfig struct {
	Enabled bool `json:"enabled"`

	// BufferSize is the size of the event buffer.
	BufferSize int `json:"buffer_size,omitempty"`

	// MaxBatchSize is the maximum number of events delivered in one batch.
	MaxBatchSize int `json:"max_batch_size,omitempty"`

	// EnableAsync delivers events from a background goroutine.
	EnableAsync bool `json:"async,omitempty"`
}

// DefaultConfig returns the configuration used by the command line tool
// when nothing else is given: console logs, metrics collected but not
// served, no trace export.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "daqconf",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			SamplingInitial:    100,
			SamplingThereafter: 100,
			TimeFormat:         "rfc3339",
		},
		Tracing: TracingConfig{
			Enabled:              false,
			Exporter:             "none",
			SamplingRate:         1.0,
			MaxExportBatchSize:   512,
			ExportTimeoutSeconds: 30,
			Headers:              make(map[string]string),
			Insecure:             true,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "daqconf",
			DefaultHistogramBuckets: []float64{
				0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0,
			},
		},
		Events: EventsConfig{
			Enabled:      true,
			BufferSize:   256,
			MaxBatchSize: 32,
			EnableAsync:  false,
		},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service version is required")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
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
	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("otlp exporter requires an endpoint")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}

	if c.Events.Enabled && c.Events.EnableAsync && c.Events.BufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got: %d", c.Events.BufferSize)
	}
	return nil
}
