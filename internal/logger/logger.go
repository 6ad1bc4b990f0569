// Package logger provides structured logging for logscope.
package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tuanbt/logscope/internal/config"
)

// LogFileName is the file written inside the configured log directory.
const LogFileName = "logscope.log"

// NewSystemLogger creates the service logger, writing JSON to the log file and
// stdout. The returned func closes the file.
func NewSystemLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	file, err := openLogFile(cfg)
	if err != nil {
		return nil, nil, err
	}

	// Multi-writer: file + stdout
	multiWriter := io.MultiWriter(os.Stdout, file)

	handler := slog.NewJSONHandler(multiWriter, &slog.HandlerOptions{
		Level: ParseLevel(cfg.LogLevel),
	})

	return slog.New(handler), func() { file.Close() }, nil
}

// NewEmbeddedLogger creates a logger that ONLY writes to file, so it cannot
// corrupt the terminal UI.
func NewEmbeddedLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	file, err := openLogFile(cfg)
	if err != nil {
		return nil, nil, err
	}

	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{
		Level: ParseLevel(cfg.LogLevel),
	})

	return slog.New(handler), func() { file.Close() }, nil
}

// NewConsoleLogger creates a text logger on stderr for one-shot commands.
func NewConsoleLogger(cfg *config.Config) *slog.Logger {
	return NewWriterLogger(os.Stderr, cfg.LogLevel)
}

// NewWriterLogger creates a text logger on w.
func NewWriterLogger(w io.Writer, level string) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return slog.New(handler)
}

// LogPath returns the log file location for cfg.
func LogPath(cfg *config.Config) string {
	return filepath.Join(cfg.LogDirectory, LogFileName)
}

func openLogFile(cfg *config.Config) (*os.File, error) {
	// Ensure log directory exists
	if err := os.MkdirAll(cfg.LogDirectory, 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(LogPath(cfg), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
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
