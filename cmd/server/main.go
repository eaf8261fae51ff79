package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/danghamo/techtrack/internal/api"
	"github.com/danghamo/techtrack/internal/domain/technician"
	"github.com/danghamo/techtrack/pkg/config"
	"github.com/danghamo/techtrack/pkg/logger"
	"github.com/danghamo/techtrack/pkg/redisx"
)

func main() {
	// Initialize configuration and logger
	cfg, log, err := config.Initialize()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	// Ensure logger is flushed on exit
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting technician location broker",
		zap.String("version", api.Version),
		zap.String("environment", cfg.Server.Environment),
		zap.String("store", cfg.Store.Driver),
	)

	repo, health, closeStore, err := openStore(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize position store", zap.Error(err))
	}
	defer closeStore()

	apiServer, err := api.NewServer(cfg, log, repo, health)
	if err != nil {
		log.Fatal("Failed to create server", zap.Error(err))
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("Shutting down server...")
		cancel()
	}()

	if err := apiServer.Start(ctx); err != nil {
		log.Error("Server error", zap.Error(err))
		closeStore()
		_ = log.Sync()
		os.Exit(1)
	}

	log.Info("Server gracefully stopped")
}

// openStore builds the position store selected by store.driver. The
// returned health checker is nil for the in-memory store.
func openStore(cfg *config.Config, log *logger.Logger) (technician.Repository, api.HealthChecker, func(), error) {
	if cfg.Store.Driver == "memory" {
		log.Warn("Using in-memory position store; positions are lost on restart")
		return technician.NewMemoryRepository(), nil, func() {}, nil
	}

	opts := []redisx.ClientOption{redisx.WithKeyPrefix(cfg.Redis.KeyPrefix)}
	if cfg.Redis.PrivateDB {
		opts = append(opts, redisx.WithPrivate())
	}

	client, err := redisx.NewClient(cfg.Redis.URL, log, opts...)
	if err != nil {
		return nil, nil, nil, err
	}

	closeStore := func() {
		if err := client.Close(); err != nil {
			log.Warn("Failed to close Redis client", zap.Error(err))
		}
	}

	return technician.NewRedisRepository(client.Client, cfg.Redis.KeyPrefix), client, closeStore, nil
}
