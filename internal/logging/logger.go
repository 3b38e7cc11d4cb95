package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithRecording returns a logger scoped to a single session recording.
func WithRecording(version, sessionID string) *slog.Logger {
	return slog.With(
		"version", version,
		"session_id", sessionID,
	)
}

// WithExperiment returns a logger scoped to a flag evaluation for one visitor.
func WithExperiment(flagKey, distinctID string) *slog.Logger {
	return slog.With(
		"flag_key", flagKey,
		"distinct_id", distinctID,
	)
}

// WithBackend tags a logger with the recording backend in use.
func WithBackend(logger *slog.Logger, backend string) *slog.Logger {
	return logger.With("backend", backend)
}
