package main

import (
	"context"
	"log"

	"cloudstore/internal/config"
	"cloudstore/internal/database"
	"cloudstore/internal/logging"
	"cloudstore/internal/migrations"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	db, err := database.Connect(ctx, cfg.PostgresDSN(), database.DefaultPoolOptions, logger)
	if err != nil {
		logger.Fatal("connect database", zap.Error(err))
	}
	defer db.Close()

	applied, err := migrations.Apply(ctx, db, logger)
	if err != nil {
		logger.Fatal("apply migrations", zap.Error(err))
	}

	logger.Info("migrations applied", zap.Int("count", len(applied)))
}
