// Package logging builds the service logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Options configures logger construction. Zero values fall back to the
// environment (LOG_LEVEL, LOG_FORMAT) and then to info-level JSON on
// stdout.
type Options struct {
	Level  string // trace, debug, info, warn, error
	Format string // "json" or "console"
	Output io.Writer
}

// New creates the service root logger. Components derive child loggers
// from it with .With().Str("component", ...).
func New(serviceName, version string, opts Options) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond

	output := opts.Output
	if output == nil {
		output = os.Stdout
	}

	format := opts.Format
	if format == "" {
		format = os.Getenv("LOG_FORMAT")
	}
	if format == "console" || format == "text" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	level := opts.Level
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}

	return zerolog.New(output).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", version).
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
