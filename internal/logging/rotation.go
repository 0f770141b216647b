package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// RotatingWriter is the file sink behind the agent's LogFile/LogMaxSizeMB/
// LogMaxBackups config fields (internal/config.Config): a size-based log
// file rotator that implements io.Writer and is safe for concurrent use.
// The agent's own process lifetime is short relative to a fleet-monitoring
// daemon's, so rotation here exists mainly to bound a long-lived desktop
// session's log footprint rather than to survive months of uptime.
type RotatingWriter struct {
	mu         sync.Mutex
	file       *os.File
	filePath   string
	maxSize    int64 // bytes, derived from Config.LogMaxSizeMB
	maxBackups int    // from Config.LogMaxBackups
	written    int64
}

// NewRotatingWriter opens filePath for the agent's log output, rotating once
// it would grow past logMaxSizeMB. logMaxBackups bounds how many rotated
// copies are kept; both non-positive values fall back to the same defaults
// as config.Default()'s LogMaxSizeMB/LogMaxBackups so a writer built outside
// of config loading still behaves sanely.
func NewRotatingWriter(filePath string, logMaxSizeMB int, logMaxBackups int) (*RotatingWriter, error) {
	if logMaxSizeMB <= 0 {
		logMaxSizeMB = 50
	}
	if logMaxBackups <= 0 {
		logMaxBackups = 3
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	rw := &RotatingWriter{
		filePath:   filePath,
		maxSize:    int64(logMaxSizeMB) * 1024 * 1024,
		maxBackups: logMaxBackups,
	}

	if err := rw.openFile(); err != nil {
		return nil, err
	}

	return rw, nil
}

// Write implements io.Writer. Rotates the file if maxSize is exceeded.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.written+int64(len(p)) > rw.maxSize {
		if err := rw.rotate(); err != nil {
			return 0, fmt.Errorf("log rotation: %w", err)
		}
	}

	n, err := rw.file.Write(p)
	rw.written += int64(n)
	return n, err
}

// Reopen closes and reopens the log file. Wired to SIGHUP in
// cmd/lqmydesk-agent so an operator can rotate logs externally (logrotate,
// a manual `mv` + signal) without restarting a long-running screen-share
// session.
func (rw *RotatingWriter) Reopen() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file != nil {
		rw.file.Close()
	}
	return rw.openFile()
}

// Close closes the underlying file.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file != nil {
		return rw.file.Close()
	}
	return nil
}

// TeeWriter returns an io.Writer that writes to both w1 and w2.
func TeeWriter(w1, w2 io.Writer) io.Writer {
	return io.MultiWriter(w1, w2)
}

func (rw *RotatingWriter) openFile() error {
	f, err := os.OpenFile(rw.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}

	rw.file = f
	rw.written = info.Size()
	return nil
}

func (rw *RotatingWriter) rotate() error {
	if rw.file != nil {
		rw.file.Close()
	}

	// Shift existing backups: .3 → delete, .2 → .3, .1 → .2
	for i := rw.maxBackups; i >= 2; i-- {
		src := rw.backupName(i - 1)
		dst := rw.backupName(i)
		if i == rw.maxBackups {
			os.Remove(dst)
		}
		os.Rename(src, dst)
	}

	// Rename current log to .1
	os.Rename(rw.filePath, rw.backupName(1))

	return rw.openFile()
}

func (rw *RotatingWriter) backupName(index int) string {
	if index == 0 {
		return rw.filePath
	}
	return fmt.Sprintf("%s.%d", rw.filePath, index)
}
