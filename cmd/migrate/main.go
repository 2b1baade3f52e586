package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Rrens/vault-chat/internal/config"
	"github.com/Rrens/vault-chat/internal/logger"
	"github.com/Rrens/vault-chat/internal/repository/postgres"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	down := flag.Int("down", 0, "roll back this many migrations instead of applying")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if _, err := logger.Setup(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	if cfg.Storage.Driver != "postgres" {
		log.Info().Str("driver", cfg.Storage.Driver).Msg("nothing to migrate, schema is created on open")
		return
	}

	log.Info().
		Str("host", cfg.Database.Host).
		Int("port", cfg.Database.Port).
		Str("source", cfg.Database.MigrationsURL).
		Msg("running migrations")

	if *down > 0 {
		err = postgres.RollbackMigrations(cfg.Database.DSN(), cfg.Database.MigrationsURL, *down)
	} else {
		err = postgres.RunMigrations(cfg.Database.DSN(), cfg.Database.MigrationsURL)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
}
