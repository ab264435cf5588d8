// Package logger provides structured logging for the orchestrator: one
// JSON system logger shared by the daemon's components, and per-task
// loggers that give each board item its own tailable log file.
package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/corvidwave/foreman/internal/config"
)

// NewSystemLogger creates the daemon-wide logger: JSON records appended to
// Config.Logger.FilePath, mirrored to stdout when EnableConsole is set.
// The control surface's log endpoints and foreman-dash both read this file.
func NewSystemLogger(cfg *config.Config) (*slog.Logger, error) {
	level := ParseLevel(cfg.Logger.Level)

	logDir := filepath.Dir(cfg.Logger.FilePath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(cfg.Logger.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	var w io.Writer = file
	if cfg.Logger.EnableConsole {
		w = io.MultiWriter(os.Stdout, file)
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})

	return slog.New(handler), nil
}

// NewTaskLogger creates a logger scoped to one task, writing to
// <logdir>/tasks/<taskID>.log with every record tagged task_id. The Worker
// opens one per execution; the returned func closes the file.
func NewTaskLogger(cfg *config.Config, taskID string) (*slog.Logger, func(), error) {
	level := ParseLevel(cfg.Logger.Level)

	logDir := filepath.Join(filepath.Dir(cfg.Logger.FilePath), "tasks")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, err
	}

	logPath := filepath.Join(logDir, taskID+".log")
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, err
	}

	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With("task_id", taskID)
	cleanup := func() { file.Close() }

	return logger, cleanup, nil
}

// ParseLevel converts a string log level to slog.Level.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
