package main

import (
	"github.com/joho/godotenv"

	"github.com/onurcolak/unified-inbox/environments"
	"github.com/onurcolak/unified-inbox/pkg/database"
	"github.com/onurcolak/unified-inbox/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := environments.Load()
	if err != nil {
		_ = logger.Init("info")
		logger.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.LogLevel); err != nil {
		panic("failed to initialise logger: " + err.Error())
	}
	defer logger.Sync()

	db, err := database.NewMySQLDB(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	defer func() {
		if err := db.Close(); err != nil {
			logger.Warnf("Failed to close database: %v", err)
		}
	}()

	if err := database.RunMigrations(db); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}

	inserted, err := database.SeedTemplates(db)
	if err != nil {
		logger.Fatalf("Failed to seed templates: %v", err)
	}

	logger.Infof("Seed completed successfully (%d new templates)", inserted)
}
