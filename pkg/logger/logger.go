// Package logger wires the process-wide slog handler. Everything else
// logs through the slog default; this package only decides where those
// records go and at what level.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Options selects the log sinks and level.
type Options struct {
	// Level is one of debug, info, warn, error. Unknown values mean info.
	Level string
	// File receives log lines, created and appended to as needed. Empty
	// disables file output.
	File string
	// Stderr mirrors log lines to standard error.
	Stderr bool
}

// Setup builds a text handler per opts and installs it as the slog
// default. The returned function closes the log file; it is always
// non-nil. With no sink configured, records are discarded.
func Setup(opts Options) (*slog.Logger, func() error, error) {
	var writers []io.Writer
	closeFn := func() error { return nil }

	if opts.Stderr {
		writers = append(writers, os.Stderr)
	}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		file, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, file)
		closeFn = file.Close
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: ParseLevel(opts.Level)})
	log := slog.New(handler)
	slog.SetDefault(log)
	return log, closeFn, nil
}

// ParseLevel maps a level name to its slog level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
