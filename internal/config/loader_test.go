package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lipish/openrunner/pkg/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.Path())
}

func TestDefaultPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	assert.Equal(t, filepath.Join(home, ".openrunner", "openrunner.json"), NewLoader("").Path())
}

func TestLoaderLoad(t *testing.T) {
	t.Run("defaults when file doesn't exist", func(t *testing.T) {
		tmpDir := t.TempDir()
		cfg, err := NewLoader(filepath.Join(tmpDir, "missing.json")).Load()

		require.NoError(t, err)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, tmpDir, cfg.DataDir)
		assert.Equal(t, filepath.Join(tmpDir, "openrunner.log"), cfg.Logging.File)
		assert.Equal(t, filepath.Join(tmpDir, "runs.db"), cfg.Runs.ArchivePath)
	})

	t.Run("load config from file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.json")
		testConfig := `{
			"server": {"port": 9000},
			"logging": {"level": "debug"},
			"runs": {"max_age": "30m", "cleanup_schedule": "@every 5m"},
			"agent": {"default_type": "mock"},
			"providers": {
				"primary": {
					"provider": "openai",
					"model": "gpt-4o",
					"api_key": "sk-test",
					"fallback_providers": ["anthropic"],
					"load_balancing": "random"
				}
			}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0o644))

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)

		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "0.0.0.0", cfg.Server.Host, "unset keys keep defaults")
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "30m", cfg.Runs.MaxAge)
		assert.Equal(t, "@every 5m", cfg.Runs.CleanupSchedule)
		assert.Equal(t, "mock", cfg.Agent.DefaultType)

		require.Contains(t, cfg.Providers, "primary")
		p := cfg.Providers["primary"]
		assert.Equal(t, "openai", p.Provider)
		assert.Equal(t, "gpt-4o", p.Model)
		assert.Equal(t, []string{"anthropic"}, p.FallbackProviders)
		assert.Equal(t, gateway.Random, p.LoadBalancing)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("environment overrides", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"server": {"port": 9000}}`), 0o644))
		t.Setenv("OPENRUNNER_SERVER_PORT", "9191")
		t.Setenv("OPENRUNNER_AGENT_DEFAULT_TYPE", "codex")

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)
		assert.Equal(t, 9191, cfg.Server.Port)
		assert.Equal(t, "codex", cfg.Agent.DefaultType)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "invalid.json")
		require.NoError(t, os.WriteFile(configPath, []byte("invalid json"), 0o644))

		_, err := NewLoader(configPath).Load()
		assert.Error(t, err)
	})
}

func TestLoaderSaveRoundTrip(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "openrunner.json")
	loader := NewLoader(configPath)

	cfg := DefaultConfig()
	cfg.Server.Port = 7070
	cfg.Agent.DefaultType = "mock"
	cfg.Providers = gateway.DefaultConfigs()
	require.NoError(t, loader.Save(cfg))

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  ", "indented JSON")

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, loaded.Server.Port)
	assert.Equal(t, "mock", loaded.Agent.DefaultType)
	assert.Equal(t, gateway.DefaultConfigs(), loaded.Providers)
	assert.NoError(t, loaded.Validate())
}
