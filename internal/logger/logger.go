// Package logger configures the process-wide slog logger.
package logger

import (
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// L is the configured root logger. Init must be called before use; until then
// it falls back to slog.Default.
var L = slog.Default()

// Init configures L from the log level, format ("text" or "json") and an
// optional file path. When a file is given, output fans out to stderr and a
// JSON file handler. Returns a cleanup that closes the file.
func Init(level, format, file string) func() error {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}

	var stderrHandler slog.Handler
	if strings.EqualFold(format, "json") {
		stderrHandler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		stderrHandler = slog.NewTextHandler(os.Stderr, opts)
	}

	if strings.TrimSpace(file) == "" {
		L = slog.New(stderrHandler)
		slog.SetDefault(L)
		return func() error { return nil }
	}

	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		L = slog.New(stderrHandler)
		slog.SetDefault(L)
		L.Error("failed to open log file, using stderr only", slog.String("file", file), slog.Any("error", err))
		return func() error { return nil }
	}

	fileHandler := slog.NewJSONHandler(f, opts)
	L = slog.New(slogmulti.Fanout(stderrHandler, fileHandler))
	slog.SetDefault(L)
	return f.Close
}

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
