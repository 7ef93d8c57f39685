package worker

import (
	"context"
	"log"
	"time"

	"github.com/dhruv2003/Scrapper/internal/config"
	"github.com/dhruv2003/Scrapper/internal/queue"
)

// Reaper periodically fails processing jobs whose lease has lapsed
// (their worker died without finishing) and deletes aged failed status
// records. It fails abandoned jobs rather than requeueing them, so a
// job is never dispatched twice.
type Reaper struct {
	queue    *queue.Client
	interval time.Duration
	sweepAge time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewReaper creates a reaper over the given queue client.
func NewReaper(client *queue.Client, cfg *config.WorkerConfig) *Reaper {
	return &Reaper{
		queue:    client,
		interval: cfg.ReapInterval,
		sweepAge: cfg.FailedSweepAge,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the reap loop.
func (r *Reaper) Start(ctx context.Context) {
	go r.run(ctx)
}

// Stop stops the reap loop and waits for it to exit.
func (r *Reaper) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Reaper) run(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	if !r.queue.EnsureConnection(ctx) {
		log.Printf("[Reaper] Queue unavailable, skipping sweep")
		return
	}

	reaped, err := r.queue.ReapExpired(ctx)
	if err != nil {
		log.Printf("[Reaper] Failed to reap expired leases: %v", err)
	} else if reaped > 0 {
		log.Printf("[Reaper] Failed %d abandoned jobs", reaped)
	}

	deleted, err := r.queue.SweepFailed(ctx, r.sweepAge)
	if err != nil {
		log.Printf("[Reaper] Failed to sweep aged failed jobs: %v", err)
	} else if deleted > 0 {
		log.Printf("[Reaper] Deleted %d aged failed status records", deleted)
	}
}
