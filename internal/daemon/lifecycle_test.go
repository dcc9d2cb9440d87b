package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLifecycleManager(t *testing.T) {
	cfg := testConfig(t)
	d := createTestDaemon(t, cfg, nil)

	lm := NewLifecycleManager(d)
	assert.Equal(t, d, lm.daemon)
	assert.Equal(t, filepath.Join(cfg.DataDir, "openrunner.pid"), lm.pidFile)
}

func TestLifecycleManagerStartStop(t *testing.T) {
	d := createTestDaemon(t, testConfig(t), nil)
	lm := NewLifecycleManager(d)

	require.NoError(t, lm.Start())
	_, err := os.Stat(lm.pidFile)
	assert.NoError(t, err)
	assert.True(t, lm.IsRunning())

	pid, err := lm.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, lm.Stop())
	_, err = os.Stat(lm.pidFile)
	assert.True(t, os.IsNotExist(err))
	assert.False(t, lm.IsRunning())
	assert.NoError(t, lm.Stop(), "removing a missing PID file is not an error")
}

func TestLifecycleManagerReplacesStalePIDFile(t *testing.T) {
	d := createTestDaemon(t, testConfig(t), nil)
	lm := NewLifecycleManager(d)

	// PIDs near the top of the range are effectively never in use.
	require.NoError(t, os.WriteFile(lm.pidFile, []byte("4194000"), 0o644))
	require.NoError(t, lm.Start())
	defer lm.Stop()

	pid, err := lm.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestLifecycleManagerRefusesLiveProcess(t *testing.T) {
	d := createTestDaemon(t, testConfig(t), nil)
	lm := NewLifecycleManager(d)

	require.NoError(t, os.WriteFile(lm.pidFile, []byte(strconv.Itoa(os.Getppid())), 0o644))
	err := lm.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadPID(filepath.Join(dir, "missing.pid"))
	assert.True(t, os.IsNotExist(err))

	bad := filepath.Join(dir, "bad.pid")
	require.NoError(t, os.WriteFile(bad, []byte("not-a-pid"), 0o644))
	_, err = ReadPID(bad)
	assert.ErrorContains(t, err, "invalid PID file")

	good := filepath.Join(dir, "good.pid")
	require.NoError(t, os.WriteFile(good, []byte("42\n"), 0o644))
	pid, err := ReadPID(good)
	require.NoError(t, err)
	assert.Equal(t, 42, pid)
}

func TestProcessRunning(t *testing.T) {
	assert.True(t, ProcessRunning(os.Getpid()))
	assert.False(t, ProcessRunning(0))
	assert.False(t, ProcessRunning(-1))
}
