package config

// LoggingConfig controls the slog handler used across the service.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObservabilityConfig groups tracing and metrics emission settings.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`

	// TraceFile, when set, streams agent lifecycle events (run/step/tool)
	// to the given path as JSONL for offline inspection and replay.
	TraceFile string `yaml:"trace_file"`
}

// TracingConfig configures OpenTelemetry trace export.
type TracingConfig struct {
	Enabled        bool              `yaml:"enabled"`
	Endpoint       string            `yaml:"endpoint"`
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Environment    string            `yaml:"environment"`
	SamplingRate   float64           `yaml:"sampling_rate"`
	Insecure       bool              `yaml:"insecure"`
	Attributes     map[string]string `yaml:"attributes"`
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}
