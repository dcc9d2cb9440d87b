package config

import (
	"encoding/json"
	"time"

	"github.com/lipish/openrunner/pkg/agent"
	"github.com/lipish/openrunner/pkg/gateway"
	"github.com/lipish/openrunner/pkg/run"
)

// Config represents the main openrunner configuration
type Config struct {
	// HTTP transport
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Run orchestration
	Runs RunsConfig `json:"runs" mapstructure:"runs"`

	// Defaults for submitted runs
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Named gateway entries. Empty means the built-in defaults.
	Providers map[string]gateway.Config `json:"providers" mapstructure:"providers"`

	// OpenTelemetry
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host                string   `json:"host" mapstructure:"host"`
	Port                int      `json:"port" mapstructure:"port"`
	RateLimit           int      `json:"rate_limit" mapstructure:"rate_limit"`         // run submissions per minute per client
	MaxConcurrent       int      `json:"max_concurrent" mapstructure:"max_concurrent"` // in-flight requests per client
	CORSOrigins         []string `json:"cors_origins" mapstructure:"cors_origins"`
	ShutdownTimeoutSecs int      `json:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// RunsConfig holds run manager and janitor settings
type RunsConfig struct {
	EventBuffer     int    `json:"event_buffer" mapstructure:"event_buffer"`
	MailboxSize     int    `json:"mailbox_size" mapstructure:"mailbox_size"`
	MaxAge          string `json:"max_age" mapstructure:"max_age"` // Go duration, e.g. "1h"
	CleanupSchedule string `json:"cleanup_schedule" mapstructure:"cleanup_schedule"`
	ArchivePath     string `json:"archive_path" mapstructure:"archive_path"`

	// ArchiveRetention is how long evicted runs stay in the archive. Empty or
	// zero keeps them forever.
	ArchiveRetention string `json:"archive_retention" mapstructure:"archive_retention"`
}

// MaxAgeDuration parses MaxAge, falling back to the janitor default.
func (r RunsConfig) MaxAgeDuration() time.Duration {
	d, err := time.ParseDuration(r.MaxAge)
	if err != nil || d <= 0 {
		return run.DefaultMaxAge
	}
	return d
}

func (r RunsConfig) ArchiveRetentionDuration() time.Duration {
	d, err := time.ParseDuration(r.ArchiveRetention)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// AgentConfig holds the defaults applied to runs submitted without a config
type AgentConfig struct {
	DefaultType string `json:"default_type" mapstructure:"default_type"`
	TimeoutSecs uint64 `json:"timeout_secs" mapstructure:"timeout_secs"`
	WorkingDir  string `json:"working_dir" mapstructure:"working_dir"`
}

// RunConfig builds the agent config for a run that did not bring its own.
func (a AgentConfig) RunConfig() agent.Config {
	cfg := agent.DefaultConfig()
	if a.DefaultType != "" {
		cfg.Type = a.DefaultType
	}
	if a.TimeoutSecs > 0 {
		cfg.TimeoutSecs = a.TimeoutSecs
	}
	cfg.WorkingDir = a.WorkingDir
	return cfg
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			RateLimit:           60,
			MaxConcurrent:       10,
			CORSOrigins:         []string{"*"},
			ShutdownTimeoutSecs: 10,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Runs: RunsConfig{
			EventBuffer:     run.DefaultEventBuffer,
			MailboxSize:     agent.DefaultMailboxSize,
			MaxAge:          run.DefaultMaxAge.String(),
			CleanupSchedule:  run.DefaultCleanupSchedule,
			ArchiveRetention: "720h",
		},
		Agent: AgentConfig{
			DefaultType: agent.TypeClaudeCode,
			TimeoutSecs: agent.DefaultTimeoutSecs,
		},
		Providers: map[string]gateway.Config{},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "openrunner",
			SampleRatio: 1.0,
		},
	}
}

// ApplyProviders replaces the registry content with the configured entries,
// or with the built-in defaults when none are configured.
func (c *Config) ApplyProviders(reg *gateway.Registry) error {
	if len(c.Providers) == 0 {
		return reg.Replace(gateway.DefaultConfigs())
	}
	return reg.Replace(c.Providers)
}

// String returns a JSON representation of the config with credentials masked
func (c *Config) String() string {
	out := *c
	out.Providers = make(map[string]gateway.Config, len(c.Providers))
	for name, p := range c.Providers {
		out.Providers[name] = p.Redacted()
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	return string(data)
}

// Validate returns the first configuration error found, if any.
func (c *Config) Validate() error {
	if errs := NewValidator().ValidateConfig(c); len(errs) > 0 {
		return errs[0]
	}
	return nil
}
