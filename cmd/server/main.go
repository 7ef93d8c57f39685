// Package main provides the API server entry point for the scrape
// coordinator service.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dhruv2003/Scrapper/internal/api"
	"github.com/dhruv2003/Scrapper/internal/config"
	"github.com/dhruv2003/Scrapper/internal/docstore"
	"github.com/dhruv2003/Scrapper/internal/export"
	"github.com/dhruv2003/Scrapper/internal/logging"
	"github.com/dhruv2003/Scrapper/internal/queue"
	"github.com/dhruv2003/Scrapper/internal/retry"
	"github.com/dhruv2003/Scrapper/internal/scrape"
	"github.com/dhruv2003/Scrapper/internal/storage"
)

func main() {
	fmt.Println("CPCB Scraper API Server")
	log.Println("Server starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.Init(logging.ParseLevel(cfg.Logging.Level), logging.ParseFormat(cfg.Logging.Format))
	logger := logging.Global()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	ctx := context.Background()

	logger.Info("Connecting to databases...")

	// Databases may still be coming up alongside this process; retry
	// the initial connects before giving up.
	var postgres *storage.PostgresDB
	err = retry.WithExponentialBackoff(ctx, nil, func(_ context.Context, _ int) error {
		var connErr error
		postgres, connErr = storage.NewPostgresDB(&cfg.Postgres)
		return connErr
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	var mongoStore *docstore.Store
	err = retry.WithExponentialBackoff(ctx, nil, func(ctx context.Context, _ int) error {
		var connErr error
		mongoStore, connErr = docstore.Connect(ctx, &cfg.Mongo, logger)
		return connErr
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to MongoDB")
	}
	defer func() { _ = mongoStore.Close(ctx) }()

	queueClient := queue.New(&cfg.Redis, logger)
	defer func() { _ = queueClient.Close() }()
	if !queueClient.EnsureConnection(ctx) {
		// Not fatal: the queue client reconnects on demand, and the
		// health endpoint reports the outage meanwhile.
		logger.Warn("Queue not reachable at startup, will keep retrying")
	}

	logger.Info("Database connections established")

	engine := docstore.NewEngine(mongoStore, logger)
	jobs := storage.NewScrapeJobRepository(postgres)
	credentials := scrape.NewFileCredentials(cfg.Worker.CredentialsGlobs, logger)
	exporter := export.NewExcelExporter()

	server := api.NewServer(cfg, queueClient, credentials, engine, jobs, exporter)

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("API server listening on %s:%s", cfg.Server.Host, cfg.Server.Port)
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Infof("Received signal %v, shutting down", sig)
	case err := <-errCh:
		logger.WithError(err).Error("Server stopped unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
	}
	logger.Info("Server stopped")
}
