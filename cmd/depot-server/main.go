package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobmcallan/depot/internal/auth"
	"github.com/bobmcallan/depot/internal/common"
	"github.com/bobmcallan/depot/internal/server"
	"github.com/bobmcallan/depot/internal/services/loan"
	"github.com/bobmcallan/depot/internal/storage"
	"github.com/bobmcallan/depot/internal/storage/kvcache"
	"github.com/bobmcallan/depot/internal/storage/sigstore"
)

func main() {
	config, err := common.LoadConfig("depot.toml", os.Getenv("DEPOT_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := common.NewLogger(config.Logging.Level)
	common.PrintBanner(config, logger)

	store, err := storage.Open(config.Storage.DatabasePath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open store")
	}
	defer store.Close()

	cache, err := kvcache.Open(config.Storage.CachePath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open cache")
	}
	defer cache.Close()

	sigs, err := sigstore.New(config.Storage.SignaturesDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open signature store")
	}

	tokens := auth.NewTokenService(&config.Auth, cache, logger)
	loans := loan.NewEngine(store, sigs, logger)

	srv := server.NewServer(config, logger, store, tokens, loans, sigs)

	shutdownChan := make(chan struct{}, 1)
	srv.SetShutdownChannel(shutdownChan)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	logger.Info().
		Str("url", fmt.Sprintf("http://localhost:%d", config.Server.Port)).
		Msg("Server ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info().Msg("Shutdown signal received")
	case <-shutdownChan:
		logger.Info().Msg("Shutdown requested")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	logger.Info().Msg("Server stopped")
}
