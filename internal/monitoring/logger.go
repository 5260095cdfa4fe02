// Package monitoring holds the structured logger and the Prometheus
// metrics the signaling core exports.
package monitoring

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LoggerConfig selects verbosity and output format.
type LoggerConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or pretty
}

// NewLogger builds the process-wide structured logger. JSON output is
// the default so log aggregation can filter on fields; pretty output is
// for local development only.
func NewLogger(cfg LoggerConfig) zerolog.Logger {
	var output io.Writer = os.Stdout

	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	if cfg.Format == "pretty" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", "realtime").
		Logger()
}

// RecoverPanic logs a recovered panic with its origin. Use as the first
// deferred call in connection-scoped goroutines so a bad message can
// never take down the process.
func RecoverPanic(logger zerolog.Logger, where string) {
	if r := recover(); r != nil {
		logger.Error().
			Interface("panic", r).
			Str("where", where).
			Msg("Recovered panic")
		PanicsRecovered.Inc()
	}
}
