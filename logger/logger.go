// Package logger builds the zerolog.Logger finch pools and drivers log
// through, following the teacher's logger.New(cfg) shape.
package logger

import (
	"os"

	"github.com/oliveigah/finch/config"
	"github.com/rs/zerolog"
)

// New returns a configured zerolog.Logger for the given config's
// environment: console-friendly output, debug level in development,
// info level otherwise.
func New(cfg *config.Config) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: os.Stderr}
	lvl := zerolog.InfoLevel
	if cfg.IsDevelopment() {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return zerolog.New(out).With().Timestamp().Str("component", "finch").Logger()
}
