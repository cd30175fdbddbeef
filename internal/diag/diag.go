// Package diag is the process-wide diagnostic log shared between the broker
// and its extension handlers. Writes are best-effort and never return errors
// to callers; losing a diagnostic line must never affect a response.
//
// The target file can be retargeted at any time (the host supplies a
// log_path on requests; last write wins). Lines have the form
//
//	1756120000.123 [tag] message
//
// with an epoch-seconds timestamp so entries from this process and from
// subprocess handlers appending to the same file interleave in order.
package diag

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	maxSizeBytes = 5 * 1024 * 1024
	maxBackups   = 3
)

var (
	std   = &logger{}
	runID = uuid.NewString()
)

// RunID identifies this broker process in the shared log; it is exported to
// subprocess handlers so their entries can be correlated across restarts.
func RunID() string {
	return runID
}

type logger struct {
	mu   sync.Mutex
	path string
	file *os.File
	size int64
}

// SetPath retargets the diagnostic log. An empty path disables logging.
// The previous file, if any, is closed. Failure to open the new target is
// reported once via slog and logging stays disabled until the next retarget,
// but the path itself is retained so subprocess handlers still receive it.
func SetPath(path string) {
	std.setPath(path)
}

// Path returns the current target path ("" when disabled).
func Path() string {
	std.mu.Lock()
	defer std.mu.Unlock()
	return std.path
}

// Logf appends one timestamped, tagged line. No-op when no path is set.
func Logf(tag, format string, args ...any) {
	std.logf(tag, format, args...)
}

func (l *logger) setPath(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if path == l.path && l.file != nil {
		return
	}
	l.closeLocked()
	l.path = path
	if path == "" {
		return
	}
	if err := l.openLocked(); err != nil {
		slog.Warn("diagnostic log unavailable", "path", path, "error", err)
	}
}

func (l *logger) openLocked() error {
	dir := filepath.Dir(l.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", l.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat %s: %w", l.path, err)
	}
	l.file = f
	l.size = info.Size()
	return nil
}

func (l *logger) closeLocked() {
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
		l.size = 0
	}
}

func (l *logger) logf(tag, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.path == "" {
		return
	}
	if l.file == nil {
		// The target may have become writable since the last attempt.
		if err := l.openLocked(); err != nil {
			return
		}
	}
	msg := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("%.3f [%s] %s\n", float64(time.Now().UnixNano())/1e9, tag, msg)
	if l.size+int64(len(line)) > maxSizeBytes {
		l.rotateLocked()
	}
	n, err := l.file.WriteString(line)
	l.size += int64(n)
	_ = err
}

// rotateLocked shifts path -> path.1 -> ... -> path.N, dropping the oldest.
// Errors are ignored; a failed rotation just keeps appending to the current
// file.
func (l *logger) rotateLocked() {
	l.closeLocked()
	_ = os.Remove(fmt.Sprintf("%s.%d", l.path, maxBackups))
	for i := maxBackups - 1; i >= 1; i-- {
		_ = os.Rename(fmt.Sprintf("%s.%d", l.path, i), fmt.Sprintf("%s.%d", l.path, i+1))
	}
	_ = os.Rename(l.path, l.path+".1")
	if err := l.openLocked(); err != nil {
		slog.Warn("diagnostic log rotation lost target", "path", l.path, "error", err)
	}
}
