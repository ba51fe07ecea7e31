package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"kafkasink/internal/app"
	"kafkasink/internal/config"
	"kafkasink/internal/logger"
)

func main() {
	_ = godotenv.Load(".env")

	configPath := flag.String("config", "", "path to a YAML or JSON config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.Log.Level, cfg.Log.Pretty)

	if err := cfg.Validate(); err != nil {
		logger.Logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.New(cfg).Run(ctx); err != nil {
		logger.Logger.Error().Err(err).Msg("sink worker exited with error")
		os.Exit(1)
	}
	logger.Logger.Info().Msg("exited")
}
