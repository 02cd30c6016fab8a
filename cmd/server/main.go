package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"mana-sync-service/internal/app"
	"mana-sync-service/internal/config"
	"mana-sync-service/internal/logger"
)

func main() {
	// Optional .env for local runs
	_ = godotenv.Load()

	configPath := os.Getenv("MANASYNC_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting Mana Sync Service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	service, err := app.New(ctx, cfg)
	if err != nil {
		logger.Log.Fatal("Failed to init service", zap.Error(err))
	}
	defer service.Close()

	if err := service.Serve(ctx); err != nil {
		logger.Log.Error("Server stopped with error", zap.Error(err))
	}
}
