package config

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// SetupLogger builds the process-wide zerolog.Logger from LogConfig: JSON
// to stdout in production, a console writer when Console/Format=="console"
// is set for local development.
func SetupLogger(cfg *Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out zerolog.Logger
	if cfg.Log.Format == "console" || cfg.Log.Console {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		out = zerolog.New(os.Stdout)
	}

	return out.With().Timestamp().Str("component", "catalog-server").Logger()
}
