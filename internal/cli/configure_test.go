package cli

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/lipish/openrunner/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureCommand(t *testing.T) {
	t.Run("writes the wizard result", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "openrunner.json")
		answers := strings.Join([]string{
			"",           // openrouter key
			"sk-test-1",  // openai key
			"",           // anthropic key
			"mock",       // default agent
			"9090",       // port
			"debug",      // log level
		}, "\n") + "\n"

		output, err := execute(t, answers, "configure", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, output, "Configuration saved to: "+path)
		assert.Contains(t, output, "openrunner serve")

		cfg, err := config.NewLoader(path).Load()
		require.NoError(t, err)
		assert.Equal(t, "mock", cfg.Agent.DefaultType)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		require.Contains(t, cfg.Providers, "openai")
		assert.Equal(t, "sk-test-1", cfg.Providers["openai"].APIKey)
	})

	t.Run("help text", func(t *testing.T) {
		output, err := execute(t, "", "configure", "--help")
		require.NoError(t, err)
		assert.Contains(t, output, "interactive configuration wizard")
	})
}
