package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tripsync/internal/app"
	"tripsync/internal/config"
	"tripsync/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logs, err := logger.New().
		FromPath(cfg.Logging.File).
		Level(cfg.Logging.Level).
		Console(cfg.Logging.Console).
		Make()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log: %v\n", err)
		os.Exit(1)
	}
	defer logs.Close()
	log := logs.Logger

	if len(cfg.Users) == 0 {
		log.Warn().Msg("TRIP_USERS is empty, nobody can log in")
	}

	a, err := app.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close storage")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.Start(ctx)
	if err := a.Serve(ctx); err != nil {
		log.Error().Err(err).Msg("server stopped")
		return
	}
	log.Info().Msg("server stopped gracefully")
}
