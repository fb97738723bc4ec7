// Package logging configures the supervisor's diagnostic logger and the sink
// that relays sidecar output.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// SetupLogger installs the process-wide slog logger on stderr.
// Debug lowers the level to debug; structured switches to JSON output.
func SetupLogger(debug, structured bool) *slog.Logger {
	logger := NewLogger(os.Stderr, debug, structured)
	slog.SetDefault(logger)
	return logger
}

// NewLogger builds a slog logger writing to w.
func NewLogger(w io.Writer, debug, structured bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if structured {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Debug logs at debug level on the default logger.
func Debug(msg string, args ...any) {
	slog.Debug(msg, args...)
}
