package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/lipish/openrunner/pkg/agent"
	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case agent.TypeAnthropic:
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case agent.TypeOpenRouter:
		if !strings.HasPrefix(key, "sk-or-") {
			return fmt.Errorf("invalid OpenRouter API key format (should start with sk-or-)")
		}
	case agent.TypeOpenAI:
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateAgentType accepts any tag the agent factory can build
func (v *Validator) ValidateAgentType(tag string) error {
	if slices.Contains(agent.Types(), tag) {
		return nil
	}
	return fmt.Errorf("unknown agent type: %s (must be one of: %s)", tag, strings.Join(agent.Types(), ", "))
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if slices.Contains(validLevels, level) {
		return nil
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

func (v *Validator) ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// ValidateSchedule checks a cron spec, descriptors like "@every 1m" included
func (v *Validator) ValidateSchedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateMaxAge validates a positive Go duration
func (v *Validator) ValidateMaxAge(maxAge string) error {
	d, err := time.ParseDuration(maxAge)
	if err != nil {
		return fmt.Errorf("invalid runs.max_age %q: %w", maxAge, err)
	}
	if d <= 0 {
		return fmt.Errorf("runs.max_age must be positive, got %s", maxAge)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := v.ValidatePort(cfg.Server.Port); err != nil {
		errs = append(errs, err)
	}
	if cfg.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit must be >= 0"))
	}
	if cfg.Server.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("server.max_concurrent must be >= 0"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	if cfg.Runs.EventBuffer < 0 {
		errs = append(errs, fmt.Errorf("runs.event_buffer must be >= 0"))
	}
	if cfg.Runs.MailboxSize < 0 {
		errs = append(errs, fmt.Errorf("runs.mailbox_size must be >= 0"))
	}
	if err := v.ValidateMaxAge(cfg.Runs.MaxAge); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidateSchedule(cfg.Runs.CleanupSchedule); err != nil {
		errs = append(errs, err)
	}
	if r := cfg.Runs.ArchiveRetention; r != "" {
		if d, err := time.ParseDuration(r); err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("invalid runs.archive_retention %q", r))
		}
	}

	if err := v.ValidateAgentType(cfg.Agent.DefaultType); err != nil {
		errs = append(errs, fmt.Errorf("agent.default_type: %w", err))
	}

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		p := cfg.Providers[name]
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("provider %s: %w", name, err))
			continue
		}
		if p.APIKey != "" {
			if err := v.ValidateAPIKey(p.APIKey, p.Provider); err != nil {
				errs = append(errs, fmt.Errorf("provider %s: %w", name, err))
			}
		}
	}

	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio must be between 0 and 1, got %v", cfg.Tracing.SampleRatio))
	}

	return errs
}
