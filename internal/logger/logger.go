package logger

import (
	"os"
	"time"

	"github.com/MohamadSamaka/jira-TaskForge/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New builds the process logger: console writer in dev, JSON elsewhere.
// LOG_LEVEL picks the minimum level; unknown values fall back to info.
func New(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.AppEnv == "dev" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		logger = zerolog.New(output).With().Timestamp().Logger().Level(level)
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	}
	log.Logger = logger
	return logger
}
