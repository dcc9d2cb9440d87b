package cli

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/lipish/openrunner/internal/daemon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeRefusesSecondInstance(t *testing.T) {
	path := writeConfig(t, `{`+quietLogging+`}`)
	pidFile := daemon.PIDFilePath(filepath.Dir(path))
	require.NoError(t, os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644))

	_, err := execute(t, "", "serve", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server is already running")
}

func TestServeRejectsInvalidPort(t *testing.T) {
	path := writeConfig(t, `{`+quietLogging+`}`)

	_, err := execute(t, "", "serve", "--config", path, "--port", "70000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
