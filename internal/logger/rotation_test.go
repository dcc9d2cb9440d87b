package logger

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRotatingWriterCreatesDirectory(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "nested", "openrunner.log")

	rw, err := NewRotatingWriter(logFile, 10, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	_, err = os.Stat(logFile)
	assert.NoError(t, err)
}

func TestRotatingWriterRotates(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "openrunner.log")

	rw, err := NewRotatingWriter(logFile, 1, 7, false)
	require.NoError(t, err)
	rw.maxBytes = 64

	line := []byte(strings.Repeat("x", 40) + "\n")
	for i := 0; i < 3; i++ {
		n, err := rw.Write(line)
		require.NoError(t, err)
		assert.Equal(t, len(line), n)
	}
	require.NoError(t, rw.Close())

	assert.NotEmpty(t, rw.backups())
	for _, b := range rw.backups() {
		assert.True(t, strings.HasPrefix(filepath.Base(b), "openrunner-"), b)
		assert.Equal(t, ".log", filepath.Ext(b))
	}

	info, err := os.Stat(logFile)
	require.NoError(t, err)
	assert.LessOrEqual(t, info.Size(), int64(64))
}

func TestRotatingWriterCompressesBackups(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "openrunner.log")

	rw, err := NewRotatingWriter(logFile, 1, 0, true)
	require.NoError(t, err)
	rw.maxBytes = 16

	_, err = rw.Write([]byte("first segment\n"))
	require.NoError(t, err)
	_, err = rw.Write([]byte("second segment\n"))
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	backups := rw.backups()
	require.Len(t, backups, 1)
	require.True(t, strings.HasSuffix(backups[0], ".gz"), backups[0])

	f, err := os.Open(backups[0])
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "first segment\n", string(data))
}

func TestRotatingWriterZeroSizeNeverRotates(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "plain.log")

	rw, err := NewRotatingWriter(logFile, 0, 0, false)
	require.NoError(t, err)
	defer rw.Close()

	_, err = rw.Write([]byte(strings.Repeat("y", 4096)))
	require.NoError(t, err)

	assert.Empty(t, rw.backups())
}

func TestRotatingWriterWriteAfterClose(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "closed.log"), 1, 0, false)
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	_, err = rw.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestRotatingWriterConcurrentWrites(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "concurrent.log")
	rw, err := NewRotatingWriter(logFile, 1, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = rw.Write([]byte("token\n"))
			}
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, 400, strings.Count(string(data), "token\n"))
}

func TestPruneRemovesExpiredBackups(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "openrunner.log")

	old := filepath.Join(dir, "openrunner-20200101T120000.000.log.gz")
	fresh := filepath.Join(dir, "openrunner-20200102T120000.000.log")
	unrelated := filepath.Join(dir, "openrunner-notes.log")
	for _, p := range []string{old, fresh, unrelated} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
	}
	oldTime := time.Now().AddDate(0, 0, -10)
	require.NoError(t, os.Chtimes(old, oldTime, oldTime))
	require.NoError(t, os.Chtimes(unrelated, oldTime, oldTime))

	rw, err := NewRotatingWriter(logFile, 10, 7, false)
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
	_, err = os.Stat(unrelated)
	assert.NoError(t, err)
}
