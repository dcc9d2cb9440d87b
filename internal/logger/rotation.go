package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const backupTimeFormat = "20060102T150405.000"

// RotatingWriter is a size-rotated log file. Rotated segments are renamed to
// <name>-<timestamp><ext>, optionally gzipped, and pruned once older than
// maxAge days.
type RotatingWriter struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	maxAge   time.Duration
	compress bool

	file *os.File
	size int64

	// background gzip and prune work, drained by Close
	bg sync.WaitGroup
}

// NewRotatingWriter opens filename for appending. A maxSizeMB of zero disables
// rotation and a maxAgeDays of zero keeps every segment.
func NewRotatingWriter(filename string, maxSizeMB int, maxAgeDays int, compress bool) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &RotatingWriter{
		path:     filename,
		maxBytes: int64(maxSizeMB) << 20,
		maxAge:   time.Duration(maxAgeDays) * 24 * time.Hour,
		compress: compress,
	}
	if err := w.open(); err != nil {
		return nil, err
	}

	w.bg.Add(1)
	go func() {
		defer w.bg.Done()
		w.prune(time.Now())
	}()
	return w, nil
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file, w.size = f, info.Size()
	return nil
}

// Write appends p, starting a new segment first when p would push a
// non-empty file past the size limit.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}
	if w.maxBytes > 0 && w.size > 0 && w.size+int64(len(p)) > w.maxBytes {
		if err := w.rotateLocked(time.Now()); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the active segment and waits for pending compression.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	var err error
	if w.file != nil {
		err = w.file.Close()
		w.file = nil
	}
	w.mu.Unlock()

	w.bg.Wait()
	return err
}

func (w *RotatingWriter) backupName(now time.Time) string {
	ext := filepath.Ext(w.path)
	return strings.TrimSuffix(w.path, ext) + "-" + now.Format(backupTimeFormat) + ext
}

func (w *RotatingWriter) rotateLocked(now time.Time) error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close log segment: %w", err)
	}
	w.file = nil

	backup := w.backupName(now)
	for exists(backup) || exists(backup+".gz") {
		now = now.Add(time.Millisecond)
		backup = w.backupName(now)
	}
	if err := os.Rename(w.path, backup); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	if err := w.open(); err != nil {
		return err
	}

	w.bg.Add(1)
	go func() {
		defer w.bg.Done()
		if w.compress {
			// A failed gzip leaves the plain segment in place.
			_ = gzipFile(backup)
		}
		w.prune(now)
	}()
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// backups returns the rotated segments that belong to this writer.
func (w *RotatingWriter) backups() []string {
	ext := filepath.Ext(w.path)
	prefix := strings.TrimSuffix(w.path, ext) + "-"

	matches, err := filepath.Glob(prefix + "*")
	if err != nil {
		return nil
	}
	var out []string
	for _, m := range matches {
		stamp := strings.TrimSuffix(strings.TrimSuffix(m, ".gz"), ext)
		stamp = strings.TrimPrefix(stamp, prefix)
		if _, err := time.Parse(backupTimeFormat, stamp); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// prune removes segments last modified more than maxAge before now.
func (w *RotatingWriter) prune(now time.Time) {
	if w.maxAge <= 0 {
		return
	}
	cutoff := now.Add(-w.maxAge)
	for _, path := range w.backups() {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(path)
		}
	}
}

// gzipFile replaces path with path.gz.
func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}

	zw := gzip.NewWriter(dst)
	if _, err := io.Copy(zw, src); err != nil {
		zw.Close()
		dst.Close()
		os.Remove(path + ".gz")
		return err
	}
	if err := zw.Close(); err != nil {
		dst.Close()
		os.Remove(path + ".gz")
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}
