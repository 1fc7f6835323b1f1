// Package main provides the API server entry point for the phunks mini
// backend.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/phunks-mini/internal/api"
	"github.com/phunks-mini/internal/auth"
	"github.com/phunks-mini/internal/chain"
	"github.com/phunks-mini/internal/config"
	"github.com/phunks-mini/internal/farcaster"
	"github.com/phunks-mini/internal/logging"
	"github.com/phunks-mini/internal/metadata"
	"github.com/phunks-mini/internal/raffle"
	"github.com/phunks-mini/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Select the KV backend
	var kv storage.KV
	switch cfg.KV.Backend {
	case "redis":
		kv, err = storage.NewRedisKV(&cfg.KV.Redis)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
	case "rest":
		kv, err = storage.NewRESTKV(&cfg.KV.REST)
		if err != nil {
			logger.WithError(err).Fatal("Failed to configure KV REST backend")
		}
	default:
		logger.WithField("backend", cfg.KV.Backend).Fatal("Unknown KV backend")
	}
	defer kv.Close()

	ctx := context.Background()
	if err := kv.Ping(ctx); err != nil {
		logger.WithError(err).Fatal("KV store unreachable")
	}
	logger.WithField("backend", cfg.KV.Backend).Info("KV store connected")

	// Chain reader
	reader, err := chain.NewReader(&cfg.Chain, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create chain reader")
	}
	logger.WithFields(map[string]interface{}{
		"contract":  cfg.Chain.ContractAddress,
		"endpoints": len(cfg.Chain.RPCEndpoints),
	}).Info("Chain reader initialized")

	// Metadata resolver
	resolver := metadata.NewResolver(&cfg.Metadata, logger)

	// Farcaster profile client and the ledger on top of the KV store
	profiles := farcaster.NewClient(&cfg.Farcaster, logger)
	ledger := storage.NewLedger(kv, logger, profiles)

	// Raffle provider
	raffleClient, err := raffle.NewClient(&cfg.Raffle, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create raffle client")
	}

	// Session token verifier
	verifier := auth.NewVerifier(&cfg.Auth, logger)

	server := api.NewServer(cfg, logger, verifier, reader, resolver, ledger, raffleClient)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("API server started")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
		os.Exit(1)
	}

	logger.Info("Server stopped")
}
