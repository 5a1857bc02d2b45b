// Package rlog provides the process-wide structured logger.
package rlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance, ready to use before Init is
// called (console output to stderr; no level is set until Init).
var Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

// Config selects the level and destination for Init.
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	File   string // empty means stderr
	JSON   bool
}

// Init replaces the global Logger per cfg. Called once at startup from
// the resolved server configuration (spec §6 log.log-level/log.log-file).
func Init(cfg Config) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stderr
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		out = f
	}

	if cfg.JSON {
		Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
	return nil
}

// WithComponent returns a child logger tagged with a component field.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithRequestID returns a child logger tagged with a request id field,
// used by the HTTP adapter so every log line for a request can be
// correlated without exposing the id to the client (spec §7).
func WithRequestID(id string) zerolog.Logger {
	return Logger.With().Str("request_id", id).Logger()
}
