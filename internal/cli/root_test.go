package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	t.Run("version flag", func(t *testing.T) {
		output, err := execute(t, "", "--version")
		require.NoError(t, err)

		assert.Contains(t, output, "openrunner version")
		assert.Contains(t, output, GetVersion())
	})

	t.Run("version command", func(t *testing.T) {
		output, err := execute(t, "", "version")
		require.NoError(t, err)
		assert.Equal(t, "openrunner version "+GetVersion()+"\n", output)
	})

	t.Run("help flag", func(t *testing.T) {
		output, err := execute(t, "", "--help")
		require.NoError(t, err)

		assert.Contains(t, output, "openrunner")
		for _, name := range []string{"serve", "run", "agents", "providers", "status", "stop", "configure"} {
			assert.Contains(t, output, name)
		}
	})

	t.Run("global flags", func(t *testing.T) {
		cmd := GetRootCmd()

		configFlag := cmd.PersistentFlags().Lookup("config")
		require.NotNil(t, configFlag)
		assert.Equal(t, "", configFlag.DefValue)

		logLevelFlag := cmd.PersistentFlags().Lookup("log-level")
		require.NotNil(t, logLevelFlag)
		assert.Equal(t, "", logLevelFlag.DefValue)
	})
}

func TestGetVersion(t *testing.T) {
	version := GetVersion()
	assert.NotEmpty(t, version)
	assert.True(t, strings.HasPrefix(version, "0."))
}

func TestLoadConfigAppliesLogLevel(t *testing.T) {
	t.Cleanup(resetFlags)
	cfgFile = writeConfig(t, `{"logging": {"level": "warn"}}`)

	_, cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)

	logLevel = "debug"
	_, cfg, err = loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}
