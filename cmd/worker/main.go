// Package main provides the scrape worker entry point. It runs the
// configured number of worker loops against the job queue plus one
// reaper for abandoned jobs.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dhruv2003/Scrapper/internal/config"
	"github.com/dhruv2003/Scrapper/internal/docstore"
	"github.com/dhruv2003/Scrapper/internal/logging"
	"github.com/dhruv2003/Scrapper/internal/pipeline"
	"github.com/dhruv2003/Scrapper/internal/queue"
	"github.com/dhruv2003/Scrapper/internal/retry"
	"github.com/dhruv2003/Scrapper/internal/scrape"
	"github.com/dhruv2003/Scrapper/internal/storage"
	"github.com/dhruv2003/Scrapper/internal/worker"
)

func main() {
	fmt.Println("CPCB Scraper Worker")
	log.Println("Worker starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.Init(logging.ParseLevel(cfg.Logging.Level), logging.ParseFormat(cfg.Logging.Format))
	logger := logging.Global()

	ctx := context.Background()

	log.Println("Connecting to databases...")

	// Databases may still be coming up alongside this process; retry
	// the initial connects before giving up.
	var postgres *storage.PostgresDB
	err = retry.WithExponentialBackoff(ctx, nil, func(_ context.Context, _ int) error {
		var connErr error
		postgres, connErr = storage.NewPostgresDB(&cfg.Postgres)
		return connErr
	})
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer postgres.Close()

	var mongoStore *docstore.Store
	err = retry.WithExponentialBackoff(ctx, nil, func(ctx context.Context, _ int) error {
		var connErr error
		mongoStore, connErr = docstore.Connect(ctx, &cfg.Mongo, logger)
		return connErr
	})
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() { _ = mongoStore.Close(ctx) }()

	// The scrape-run archive is optional; the workers run without it.
	var audit *storage.AuditRepository
	if cfg.ClickHouse.Enabled {
		clickhouseDB, err := storage.NewClickHouseDB(&cfg.ClickHouse)
		if err != nil {
			log.Printf("ClickHouse unavailable, continuing without run archive: %v", err)
		} else {
			defer func() { _ = clickhouseDB.Close() }()
			audit = storage.NewAuditRepository(clickhouseDB, logger)
			if err := audit.EnsureSchema(ctx); err != nil {
				log.Printf("Failed to prepare scrape_runs table: %v", err)
				audit = nil
			}
		}
	}

	log.Println("Database connections established")

	engine := docstore.NewEngine(mongoStore, logger)
	jobs := storage.NewScrapeJobRepository(postgres)
	credentials := scrape.NewFileCredentials(cfg.Worker.CredentialsGlobs, logger)
	scraper := scrape.NewPortalScraper(&cfg.Portal, logger)
	runner := pipeline.New(scraper, jobs, engine, logger)

	workers := make([]*worker.ScrapeWorker, 0, cfg.Worker.Concurrency)
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		// Each worker owns its own queue connection so a broken handle
		// on one does not stall the others.
		queueClient := queue.New(&cfg.Redis, logger)
		defer func() { _ = queueClient.Close() }()

		w, err := worker.NewScrapeWorker(&worker.ScrapeWorkerConfig{
			ID:          fmt.Sprintf("worker-%d", i+1),
			Queue:       queueClient,
			Credentials: credentials,
			Runner:      runner,
			Audit:       audit,
			Config:      &cfg.Worker,
		})
		if err != nil {
			log.Fatalf("Failed to create worker: %v", err)
		}
		if err := w.Start(ctx); err != nil {
			log.Fatalf("Failed to start worker: %v", err)
		}
		workers = append(workers, w)
	}

	reaperQueue := queue.New(&cfg.Redis, logger)
	defer func() { _ = reaperQueue.Close() }()
	reaper := worker.NewReaper(reaperQueue, &cfg.Worker)
	reaper.Start(ctx)

	log.Printf("%d worker(s) running on queue %s", len(workers), cfg.Worker.QueueName)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received signal %v, shutting down", sig)

	stopCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	for _, w := range workers {
		if err := w.Stop(stopCtx); err != nil {
			log.Printf("Worker stop: %v", err)
		}
	}
	reaper.Stop()
	log.Println("Worker stopped")
}
