// Package logger configures the process-wide slog logger and the
// structured fields every tool invocation logs through it: which
// project called, which tool, and how the call resolved.
package logger

import (
	"log/slog"
	"os"
	"time"
)

// InitLogger builds the process-wide slog.Logger and installs it as the
// default. environment == "development" enables debug level plus source
// locations; useJSON selects the JSON handler over the text one.
func InitLogger(environment string, useJSON bool) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if environment == "development" {
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	}

	if useJSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// LogToolCall records one component K dispatch: the calling project, the
// tool name, and how it resolved (ok, not_found, access_denied, error),
// plus how long the tool's Run took. Called from the registry's Execute
// so every tool invocation — not just the ones a handler chooses to log —
// leaves a trace.
func LogToolCall(project, tool, outcome string, duration time.Duration, err error) {
	attrs := []any{"project", project, "tool", tool, "outcome", outcome, "duration_ms", duration.Milliseconds()}
	if err != nil {
		slog.Warn("tool call failed", append(attrs, "error", err)...)
		return
	}
	slog.Info("tool call", attrs...)
}
