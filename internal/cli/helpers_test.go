package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// resetFlags restores every package-level flag variable, since cobra keeps
// them between Execute calls.
func resetFlags() {
	cfgFile = ""
	logLevel = ""
	serveHost = ""
	servePort = 0
	stopTimeout = 30
	agentsCheck = false
	runAgent = ""
	runModel = ""
	runWorkDir = ""
	runTimeout = 0
	runSession = ""
}

// execute runs the root command with args, feeding in on stdin, and returns
// everything written to stdout and stderr.
func execute(t *testing.T, in string, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(resetFlags)

	cmd := GetRootCmd()
	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(output)
	cmd.SetIn(strings.NewReader(in))
	cmd.SetArgs(args)

	err := cmd.Execute()
	return output.String(), err
}

// writeConfig writes body as the config file in a fresh data directory and
// returns its path. Logging goes to a file in that directory.
func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "openrunner.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const quietLogging = `"logging": {"level": "error", "console": false}`
