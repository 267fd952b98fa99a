package cliutil

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/Paintersrp/procgroup/internal/runtime"
)

// SourceKey labels the output stream of a command's log line.
const SourceKey = "source"

// LogLevel picks the slog level for a captured output line. An explicit level
// token in the message wins over the stream's default.
func LogLevel(entry runtime.LogEntry) slog.Level {
	if inferred, ok := inferLogLevel(entry.Message); ok {
		return inferred
	}
	switch strings.ToLower(entry.Level) {
	case "error":
		return slog.LevelError
	case "warn":
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// LogEntry writes a captured output line to logger with its source stream.
func LogEntry(logger *slog.Logger, entry runtime.LogEntry) {
	source := entry.Source
	if source == "" {
		source = runtime.LogSourceSystem
	}
	logger.LogAttrs(context.Background(), LogLevel(entry), RedactSecrets(entry.Message), slog.String(SourceKey, source))
}

var levelTokenPattern = regexp.MustCompile(`(?i)\b(error|warn|warning|info|debug)\b`)

func inferLogLevel(message string) (slog.Level, bool) {
	matches := levelTokenPattern.FindStringSubmatch(message)
	if len(matches) < 2 {
		return 0, false
	}
	switch strings.ToLower(matches[1]) {
	case "error":
		return slog.LevelError, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "info":
		return slog.LevelInfo, true
	case "debug":
		return slog.LevelDebug, true
	default:
		return 0, false
	}
}
