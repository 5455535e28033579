// Package logging builds the structured zerolog logger shared by every
// process in the backend (service-runtime workers and the updater).
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Format selects the output encoding for a logger.
type Format string

const (
	FormatJSON   Format = "json"
	FormatPretty Format = "pretty"
)

// Config controls level, format and the static component label attached
// to every record.
type Config struct {
	Level     string
	Format    Format
	Component string
}

// New builds a zerolog.Logger per Config. Unknown levels fall back to
// info rather than failing boot over a typo in an env var.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stdout
	if cfg.Format == FormatPretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		With().
		Timestamp().
		Str("component", cfg.Component).
		Logger()
}
