// Package logging configures structured JSON logging for askdocs.
// Log records in the query path carry request-scoped ids (req_id, trace_id)
// attached via context, so every error can be correlated with its request.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config contains logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// FilePath is the path to the log file. Empty means no file logging.
	FilePath string
	// MaxSizeMB is the maximum size in MB before rotation (default: 10).
	MaxSizeMB int
	// MaxFiles is the maximum number of rotated files to keep (default: 5).
	MaxFiles int
	// WriteToStderr whether to also write to stderr (default: true).
	WriteToStderr bool
}

// DefaultConfig returns sensible defaults for file logging.
func DefaultConfig(dataDir string) Config {
	return Config{
		Level:         "info",
		FilePath:      DefaultLogPath(dataDir),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
}

// Setup initializes file-based logging and returns a cleanup function.
// The cleanup function should be called to close the log file.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	var output io.Writer = os.Stderr
	cleanup := func() {}

	if cfg.FilePath != "" {
		writer, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
		if err != nil {
			return nil, nil, err
		}
		output = writer
		if cfg.WriteToStderr {
			output = io.MultiWriter(writer, os.Stderr)
		}
		cleanup = func() {
			_ = writer.Sync()
			_ = writer.Close()
		}
	}

	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})

	logger := slog.New(handler)
	return logger, cleanup, nil
}

// SetupDefault initializes logging and installs the logger as slog default.
func SetupDefault(cfg Config) (func(), error) {
	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return cleanup, nil
}

// parseLevel converts a level string to slog.Level. Unknown levels become info.
func parseLevel(level string) slog.Level {
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
