// Package log builds the process logger. Command output owns stdout, so
// driftline writes structured JSON lines to a file instead, with a
// discard logger standing in when file logging is off or unavailable.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Options selects the log sink and verbosity.
type Options struct {
	// File receives the JSON log lines. A leading "~" expands to the
	// home directory; an empty File disables file logging entirely.
	File string
	// Level is debug, info, warn or error, case-insensitive. Anything
	// else means info.
	Level string
}

// Open prepares the sink named by opts and returns a logger writing to
// it. The parent directory is created when missing; the file is appended
// to, never truncated.
func Open(opts Options) (*slog.Logger, error) {
	if opts.File == "" {
		return Discard(), nil
	}
	path, err := expandHome(opts.File)
	if err != nil {
		return nil, fmt.Errorf("log: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("log: create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("log: open %s: %w", path, err)
	}
	handler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: ParseLevel(opts.Level)})
	return slog.New(handler), nil
}

// ParseLevel maps a configuration string onto a slog level.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}
