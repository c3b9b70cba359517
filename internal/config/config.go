// Package config loads and validates the YAML configuration that wires
// together the Context Store, Sandbox Manager, Dev Server Supervisor, Tool
// Registry, and Agent Orchestrator.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Server         ServerConfig        `yaml:"server"`
	Database       DatabaseConfig      `yaml:"database"`
	Workspace      WorkspaceConfig     `yaml:"workspace"`
	ContextStore   ContextStoreConfig  `yaml:"context_store"`
	Sandbox        SandboxConfig       `yaml:"sandbox"`
	DevServer      DevServerConfig     `yaml:"dev_server"`
	Tools          ToolsConfig         `yaml:"tools"`
	LLM            LLMConfig           `yaml:"llm"`
	ContextPruning ContextPruningConfig `yaml:"context_pruning"`
	Logging        LoggingConfig       `yaml:"logging"`
	Observability  ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the HTTP/gRPC surface the orchestrator is served behind.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	GRPCPort    int    `yaml:"grpc_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// DatabaseConfig configures the durable backing store for project contexts.
type DatabaseConfig struct {
	// Driver selects the Context Store backing: "memory", "postgres", "sqlite".
	Driver          string        `yaml:"driver"`
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// WorkspaceConfig configures where sandboxed project file trees are rooted.
type WorkspaceConfig struct {
	Path string `yaml:"path"`
}

// ContextStoreConfig tunes the bounded history rings kept per project.
type ContextStoreConfig struct {
	MaxToolHistory  int `yaml:"max_tool_history"`
	MaxErrorHistory int `yaml:"max_error_history"`
}

// Load reads path, expands environment variables, applies defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromRaw decodes an already-merged raw document (used by LoadRaw/$include callers).
func LoadFromRaw(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 50051
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "memory"
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 25
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}

	if cfg.Workspace.Path == "" {
		cfg.Workspace.Path = "./workspace"
	}

	if cfg.ContextStore.MaxToolHistory == 0 {
		cfg.ContextStore.MaxToolHistory = 50
	}
	if cfg.ContextStore.MaxErrorHistory == 0 {
		cfg.ContextStore.MaxErrorHistory = 20
	}

	applySandboxDefaults(&cfg.Sandbox)
	applyDevServerDefaults(&cfg.DevServer)
	applyToolsDefaults(&cfg.Tools)
	applyLLMDefaults(&cfg.LLM)
	applyLoggingDefaults(&cfg.Logging)

	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "forgectl"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("FORGECTL_DATABASE_URL")); v != "" {
		cfg.Database.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("FORGECTL_WORKSPACE_PATH")); v != "" {
		cfg.Workspace.Path = v
	}
}

// ConfigValidationError collects configuration issues found during Load.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Issues, "; "))
}

func validateConfig(cfg *Config) error {
	var issues []string

	switch cfg.Database.Driver {
	case "memory", "postgres", "sqlite":
	default:
		issues = append(issues, fmt.Sprintf("database.driver: unsupported driver %q", cfg.Database.Driver))
	}
	if cfg.Database.Driver != "memory" && strings.TrimSpace(cfg.Database.URL) == "" {
		issues = append(issues, "database.url: required for non-memory driver")
	}

	switch cfg.Sandbox.Backend {
	case "firecracker", "fake":
	default:
		issues = append(issues, fmt.Sprintf("sandbox.backend: unsupported backend %q", cfg.Sandbox.Backend))
	}
	if cfg.DevServer.PortRangeStart <= 0 || cfg.DevServer.PortRangeEnd < cfg.DevServer.PortRangeStart {
		issues = append(issues, "dev_server: invalid port range")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}
