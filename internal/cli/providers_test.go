package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvidersList(t *testing.T) {
	t.Run("configured entries are masked", func(t *testing.T) {
		path := writeConfig(t, `{`+quietLogging+`, "providers": {
			"primary": {"provider": "openai", "model": "gpt-4o", "api_key": "sk-test-secret", "fallback_providers": ["backup"]},
			"backup": {"provider": "mock"}
		}}`)

		output, err := execute(t, "", "providers", "list", "--config", path)
		require.NoError(t, err)

		assert.NotContains(t, output, "sk-test-secret")
		lines := strings.Split(strings.TrimSpace(output), "\n")
		require.Len(t, lines, 3)
		assert.Equal(t, []string{"backup", "mock", "-", "-", "-", "-"}, strings.Fields(lines[1]))
		assert.Equal(t, []string{"primary", "openai", "gpt-4o", "backup", "-", "***"}, strings.Fields(lines[2]))
	})

	t.Run("defaults when none are configured", func(t *testing.T) {
		path := writeConfig(t, `{`+quietLogging+`}`)

		output, err := execute(t, "", "providers", "list", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, output, "openrouter")
		assert.Contains(t, output, "openai,anthropic")
	})
}

func TestProvidersCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		path := writeConfig(t, `{`+quietLogging+`, "providers": {"local": {"provider": "mock"}}}`)

		output, err := execute(t, "", "providers", "check", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, output, "local")
		assert.Contains(t, output, "ok")
	})

	t.Run("unhealthy entries fail the command", func(t *testing.T) {
		path := writeConfig(t, `{`+quietLogging+`, "providers": {
			"local": {"provider": "mock"},
			"broken": {"provider": "nope"}
		}}`)

		output, err := execute(t, "", "providers", "check", "--config", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 of 2 providers unhealthy")
		assert.Contains(t, output, "unknown agent type: nope")
	})
}
