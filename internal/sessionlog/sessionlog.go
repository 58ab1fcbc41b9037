// Package sessionlog implements component B: the per-session, size-capped
// plaintext log described in spec.md §4.B. It is grounded on wingthing's
// internal/logger/logger.go — a single *slog.Logger wired over a text
// handler, with unknown level strings downgrading to a default and emitting
// one warning, generalized here to a per-session file instead of a single
// process-wide logger.
package sessionlog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// DefaultMaxBytes is spec.md §4.B/§6's default session log cap (5 MiB).
const DefaultMaxBytes = 5 * 1024 * 1024

// Logger wraps a *slog.Logger over a size-capped file. It is the sole
// mutator of its file; Close releases the handle.
type Logger struct {
	f   *os.File
	log *slog.Logger
}

// Open opens (creating if necessary) the log file at path. If it already
// exceeds maxBytes, it is truncated in place to keep only the trailing
// maxBytes bytes (tail preserved), per spec.md §4.B. maxBytes <= 0 disables
// the cap.
func Open(path string, maxBytes int64, level string) (*Logger, error) {
	if maxBytes > 0 {
		if err := truncateToTail(path, maxBytes); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sessionlog: opening %s: %w", path, err)
	}

	lvl, downgraded := parseLevel(level)
	handler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: lvl})
	log := slog.New(handler)
	if downgraded {
		log.Warn("sessionlog: unknown log level, downgraded to default", "requested", level, "used", lvl.String())
	}
	return &Logger{f: f, log: log}, nil
}

// Logger returns the underlying *slog.Logger for structured calls.
func (l *Logger) Logger() *slog.Logger { return l.log }

func (l *Logger) Info(msg string, args ...any)  { l.log.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log.Error(msg, args...) }
func (l *Logger) Debug(msg string, args ...any) { l.log.Debug(msg, args...) }

// Close flushes (trivial for *os.File) and releases the handle.
func (l *Logger) Close() error {
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

func parseLevel(level string) (slog.Level, bool) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, true
	}
	return lvl, false
}

// truncateToTail keeps only the trailing maxBytes bytes of the file at path,
// if it exists and currently exceeds that size.
func truncateToTail(path string, maxBytes int64) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("sessionlog: opening %s for size check: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("sessionlog: stat %s: %w", path, err)
	}
	if info.Size() <= maxBytes {
		return nil
	}

	if _, err := f.Seek(-maxBytes, io.SeekEnd); err != nil {
		return fmt.Errorf("sessionlog: seeking tail of %s: %w", path, err)
	}
	tail, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("sessionlog: reading tail of %s: %w", path, err)
	}
	f.Close()

	if err := os.WriteFile(path, tail, 0o644); err != nil {
		return fmt.Errorf("sessionlog: rewriting %s: %w", path, err)
	}
	return nil
}
