// Package slogger configures the process-wide slog logger. Call Init() at
// the start of main(). LOG_LEVEL selects the level (debug, info, warn,
// error; default info) and LOG_FORMAT selects the handler (text or json;
// default text). Legacy log.Print* calls are routed through the same
// handler via slog.SetDefault.
package slogger

import (
	"log/slog"
	"os"
	"strings"
)

var level *slog.LevelVar

// Init reads LOG_LEVEL and LOG_FORMAT from the environment and installs the
// default slog logger.
func Init() {
	level = &slog.LevelVar{}
	level.Set(parseLevel(os.Getenv("LOG_LEVEL")))

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT"))) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// Level returns the current log level.
func Level() slog.Level {
	if level == nil {
		return slog.LevelInfo
	}
	return level.Level()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
