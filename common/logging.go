package common

import (
	"log/slog"
	"os"
)

// SetupLogger builds the process-wide structured logger and installs it as
// the slog default.
func SetupLogger(json, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	log := slog.New(handler).With("service", PackageName, "version", Version)
	slog.SetDefault(log)
	return log
}
