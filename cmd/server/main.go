package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/metasuper/core/internal/config"
	"github.com/metasuper/core/internal/lifecycle"
	"github.com/metasuper/core/internal/logger"
)

func main() {
	cwd, _ := os.Getwd()

	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Printf("no %s file found in %s: %v", envFile, cwd, err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.InitLogger(cfg.Environment, cfg.Environment != "development")

	sup, err := lifecycle.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize supervisor: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("metasuper control plane starting", "address", cfg.ServerAddress, "environment", cfg.Environment)
	if err := sup.Run(ctx); err != nil {
		slog.Error("supervisor exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("metasuper control plane stopped")
}
