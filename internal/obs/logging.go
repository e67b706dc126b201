// Package obs wires up the engine's ambient observability: structured
// logging and OpenTelemetry tracing/metrics.
package obs

import (
	"log/slog"
	"os"
	"strings"
)

// InitLogging configures the global slog logger for service, JSON-encoded
// when FLOWENGINE_JSON_LOG is 1/true/json, text otherwise. The level is
// controlled by FLOWENGINE_LOG_LEVEL (debug/info/warn/error, default info).
func InitLogging(service string) *slog.Logger {
	mode := strings.ToLower(os.Getenv("FLOWENGINE_JSON_LOG"))
	var handler slog.Handler
	if mode == "1" || mode == "true" || mode == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: levelFromEnv()})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: levelFromEnv()})
	}
	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	logger.Info("logging initialized", "json", mode == "1" || mode == "true" || mode == "json")
	return logger
}

func levelFromEnv() slog.Leveler {
	switch strings.ToLower(os.Getenv("FLOWENGINE_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
