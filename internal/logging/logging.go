// Package logging builds the structured zerolog logger shared by every
// server, adapted from adred-codev-ws_poc's src/logger.go.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger for the named service ("agent", "zone", ...).
// level is one of debug/info/warn/error; format is json or console.
func New(service, level, format string) zerolog.Logger {
	var lvl zerolog.Level
	switch level {
	case "debug":
		lvl = zerolog.DebugLevel
	case "warn":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	default:
		lvl = zerolog.InfoLevel
	}

	var output io.Writer = os.Stdout
	if format == "console" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).Level(lvl).With().
		Timestamp().
		Str("service", service).
		Logger()
}

// Recover logs a recovered panic with a stack trace and returns without
// re-panicking, matching spec.md §7's "a panic in a user callback MUST NOT
// kill the event loop".
func Recover(logger zerolog.Logger, msg string) {
	if r := recover(); r != nil {
		logger.Error().
			Interface("panic", r).
			Str("stack", string(debug.Stack())).
			Msg(msg)
	}
}
