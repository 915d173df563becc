package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/wallet-gateway/internal/config"
	"github.com/wallet-gateway/internal/logging"
	"github.com/wallet-gateway/internal/storage"
)

const migrationsPath = "migrations"

func main() {
	action := flag.String("action", "up", "Migration action: up, down, or version")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()

	databaseURL := cfg.Database.Postgres.URL()

	switch *action {
	case "up":
		logger.Info("running migrations")
		if err := storage.RunMigrations(databaseURL, migrationsPath); err != nil {
			logger.WithError(err).Fatal("failed to run migrations")
		}
		logger.Info("migrations applied")
	case "down":
		logger.Info("rolling back last migration")
		if err := storage.RollbackMigrations(databaseURL, migrationsPath); err != nil {
			logger.WithError(err).Fatal("failed to rollback migration")
		}
		logger.Info("migration rolled back")
	case "version":
		version, dirty, err := storage.MigrationVersion(databaseURL, migrationsPath)
		if err != nil {
			logger.WithError(err).Fatal("failed to get migration version")
		}
		logger.WithFields(map[string]interface{}{
			"version": version,
			"dirty":   dirty,
		}).Info("current migration version")
	default:
		logger.WithField("action", *action).Fatal("unknown action, use up, down or version")
	}
}
