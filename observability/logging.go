// Package observability configures structured logging and Prometheus metrics.
package observability

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFile configures a rotating log file. An empty Path logs to stdout only.
type LogFile struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// SetupLogging configures the standard library logger to emit structured JSON
// and returns the slog.Logger used by the engine and API. Every line carries
// the service name and, when set, the environment.
func SetupLogging(service, env, level string, file LogFile) *slog.Logger {
	var out io.Writer = os.Stdout
	if file.Path != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   file.Path,
			MaxSize:    orDefault(file.MaxSizeMB, 10), // Megabytes
			MaxBackups: orDefault(file.MaxBackups, 3),
			MaxAge:     orDefault(file.MaxAgeDays, 30), // Days
		})
	}

	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	handler := NewJSONHandler(out, ParseLevel(level)).WithAttrs(attrs)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// Bridge the standard library logger so chi's request logger and the
	// scheduler's log.Printf calls end up in the same stream.
	stdBridge := slog.NewLogLogger(handler, slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")
	return logger
}

// NewJSONHandler returns a JSON handler with timestamp/severity/message keys.
func NewJSONHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return attr
			}
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})
}

// ParseLevel maps debug/info/warn/error to a slog level. Unknown values are info.
func ParseLevel(level string) slog.Level {
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

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
