// Package logging configures the process-wide slog logger.
package logging

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Setup installs the default slog logger. Format is "json", "text", or
// "auto"; auto picks colorized text on a terminal and JSON otherwise.
func Setup(level, format string) {
	lvl := parseLevel(level)

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = textHandler(lvl)
	case "json":
		handler = jsonHandler(lvl)
	default:
		if term.IsTerminal(int(os.Stderr.Fd())) {
			handler = textHandler(lvl)
		} else {
			handler = jsonHandler(lvl)
		}
	}

	slog.SetDefault(slog.New(handler))
}

func textHandler(lvl slog.Level) slog.Handler {
	return tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lvl,
		TimeFormat: time.TimeOnly,
	})
}

func jsonHandler(lvl slog.Level) slog.Handler {
	return slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
