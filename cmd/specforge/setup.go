package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/specforge/internal/config"
	"github.com/p-blackswan/specforge/internal/store"
)

// loadConfig reads the env file named by --env-file and the environment.
func loadConfig() (*config.Config, error) {
	return config.Load(envFile)
}

// newLogger builds the process logger: JSON on stdout, console output in
// development.
func newLogger(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()
	if cfg.IsDevelopment() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	log.Logger = logger
	return logger
}

// openStore opens the database, applying migrations.
func openStore(cfg *config.Config, logger zerolog.Logger) (*store.Store, error) {
	return store.New(cfg.DBPath, logger)
}
