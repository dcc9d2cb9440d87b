package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	dirName  = ".openrunner"
	fileName = "openrunner.json"
	// EnvPrefix prefixes environment overrides, e.g. OPENRUNNER_SERVER_PORT.
	EnvPrefix = "OPENRUNNER"
)

// envKeys may be overridden from the environment even when the file does
// not mention them.
var envKeys = []string{
	"server.host",
	"server.port",
	"server.rate_limit",
	"logging.level",
	"logging.file",
	"agent.default_type",
	"agent.timeout_secs",
	"runs.max_age",
	"runs.archive_path",
	"runs.archive_retention",
	"tracing.enabled",
	"data_dir",
}

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader. An empty path means the default
// location under the user's home directory.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file over DefaultConfig. A missing file is not an
// error; defaults and environment overrides apply.
func (l *Loader) Load() (*Config, error) {
	configPath, err := l.path()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Dir(configPath)
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "openrunner.log")
	}
	if cfg.Runs.ArchivePath == "" {
		cfg.Runs.ArchivePath = filepath.Join(cfg.DataDir, "runs.db")
	}

	return cfg, nil
}

// Save writes cfg as indented JSON, creating the directory if needed.
func (l *Loader) Save(cfg *Config) error {
	configPath, err := l.path()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("server", cfg.Server)
	v.Set("logging", cfg.Logging)
	v.Set("runs", cfg.Runs)
	v.Set("agent", cfg.Agent)
	v.Set("providers", cfg.Providers)
	v.Set("tracing", cfg.Tracing)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfig(); err != nil {
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			return nil
		}
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Path returns the config file path, or "" if it cannot be determined.
func (l *Loader) Path() string {
	p, err := l.path()
	if err != nil {
		return ""
	}
	return p
}

func (l *Loader) path() (string, error) {
	if l.configPath != "" {
		return l.configPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, dirName, fileName), nil
}
