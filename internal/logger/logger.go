// Package logger constructs the zerolog instance handed to every pipeline
// component. There is no package-level logger: tests inject their own and
// run in parallel without cross-contamination.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the configuration for the logger.
type Config struct {
	Level  string
	Output io.Writer // defaults to stderr
	Pretty bool      // console writer for development
}

// New builds a logger from cfg. Unknown levels fall back to info.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "2006-01-02 15:04:05",
		}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Nop returns a disabled logger for tests that do not assert on output.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
