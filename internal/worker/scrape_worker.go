// Package worker runs the scrape job consumers: each worker blocks on
// the queue, claims one job at a time, and drives it through the
// pipeline while heartbeating its lease.
package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dhruv2003/Scrapper/internal/config"
	"github.com/dhruv2003/Scrapper/internal/models"
	"github.com/dhruv2003/Scrapper/internal/pipeline"
	"github.com/dhruv2003/Scrapper/internal/queue"
	"github.com/dhruv2003/Scrapper/internal/retry"
	"github.com/dhruv2003/Scrapper/internal/scrape"
	"github.com/dhruv2003/Scrapper/internal/storage"
	"github.com/dhruv2003/Scrapper/internal/types"
)

// JobRunner executes one claimed job end to end.
type JobRunner interface {
	Run(ctx context.Context, job *types.Job) (*pipeline.Summary, error)
}

// ScrapeWorker consumes jobs from one queue
type ScrapeWorker struct {
	id          string
	queue       *queue.Client
	credentials scrape.CredentialStore
	runner      JobRunner
	audit       *storage.AuditRepository
	cfg         *config.WorkerConfig

	running bool
	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// ScrapeWorkerConfig holds configuration for a scrape worker
type ScrapeWorkerConfig struct {
	ID          string
	Queue       *queue.Client
	Credentials scrape.CredentialStore
	Runner      JobRunner
	Audit       *storage.AuditRepository // optional
	Config      *config.WorkerConfig
}

// NewScrapeWorker creates a new scrape worker
func NewScrapeWorker(cfg *ScrapeWorkerConfig) (*ScrapeWorker, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue client cannot be nil")
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("credential store cannot be nil")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("job runner cannot be nil")
	}
	if cfg.Config == nil {
		return nil, fmt.Errorf("worker config cannot be nil")
	}
	id := cfg.ID
	if id == "" {
		id = "worker-1"
	}

	return &ScrapeWorker{
		id:          id,
		queue:       cfg.Queue,
		credentials: cfg.Credentials,
		runner:      cfg.Runner,
		audit:       cfg.Audit,
		cfg:         cfg.Config,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins the worker loop
func (w *ScrapeWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("worker %s is already running", w.id)
	}
	w.running = true
	w.mu.Unlock()

	log.Printf("[Worker %s] Starting, queue %s", w.id, w.cfg.QueueName)
	go w.runLoop(ctx)
	return nil
}

// Stop gracefully stops the worker after the current job finishes
func (w *ScrapeWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("worker %s is not running", w.id)
	}
	w.mu.Unlock()

	log.Printf("[Worker %s] Stopping", w.id)
	close(w.stopCh)

	select {
	case <-w.doneCh:
		log.Printf("[Worker %s] Stopped gracefully", w.id)
	case <-ctx.Done():
		log.Printf("[Worker %s] Stop timed out", w.id)
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	return nil
}

func (w *ScrapeWorker) runLoop(ctx context.Context) {
	defer close(w.doneCh)

	backoff := retry.NewBackoff(w.cfg.ReconnectDelay, w.cfg.ReconnectMax)

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if !w.queue.EnsureConnection(ctx) {
			delay := backoff.Next()
			log.Printf("[Worker %s] Queue unavailable, retrying in %v", w.id, delay)
			if !w.sleep(ctx, delay) {
				return
			}
			continue
		}
		backoff.Reset()

		job, err := w.queue.DequeueBlocking(ctx, w.cfg.QueueName, w.cfg.DequeueTimeout)
		if err != nil {
			// Handle is already invalidated; the next iteration
			// re-enters the connecting state.
			log.Printf("[Worker %s] Dequeue failed: %v", w.id, err)
			continue
		}
		if job == nil {
			continue
		}

		w.process(ctx, job)
	}
}

func (w *ScrapeWorker) process(ctx context.Context, job *types.Job) {
	start := time.Now()
	log.Printf("[Worker %s] Processing job %s for %s", w.id, job.JobID, job.Email)

	if err := w.queue.UpdateStatus(ctx, job.JobID, types.StatusProcessing, "Scraping in progress..."); err != nil {
		log.Printf("[Worker %s] Failed to mark job %s processing: %v", w.id, job.JobID, err)
	}
	if err := w.queue.RefreshLease(ctx, job.JobID, w.cfg.LeaseTTL); err != nil {
		log.Printf("[Worker %s] Failed to set lease for job %s: %v", w.id, job.JobID, err)
	}

	if err := scrape.BackfillCredentials(job, w.credentials); err != nil {
		msg := fmt.Sprintf("No credentials found for %s", job.Email)
		log.Printf("[Worker %s] %s", w.id, msg)
		w.finish(ctx, job, types.StatusFailed, msg, nil, start)
		return
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go w.heartbeat(hbCtx, job.JobID)

	summary, err := w.runner.Run(ctx, job)
	stopHeartbeat()

	if err != nil {
		msg := fmt.Sprintf("Scraping failed: %v", err)
		log.Printf("[Worker %s] Job %s failed: %v", w.id, job.JobID, err)
		w.finish(ctx, job, types.StatusFailed, msg, summary, start)

		if storage.IsOperational(err) {
			log.Printf("[Worker %s] Database unavailable, cooling down for %v", w.id, w.cfg.DBErrorCooldown)
			w.sleep(ctx, w.cfg.DBErrorCooldown)
		}
		return
	}

	msg := fmt.Sprintf("Scraping completed for %s: %d sections, %d rows saved",
		job.Email, summary.SectionsSaved, summary.RowsSaved)
	w.finish(ctx, job, types.StatusCompleted, msg, summary, start)
	log.Printf("[Worker %s] Job %s completed in %v", w.id, job.JobID, time.Since(start))
}

// finish writes the terminal status and archives the run. A connection
// loss here is logged; the dropped handle re-enters the connecting
// state on the next loop iteration.
func (w *ScrapeWorker) finish(ctx context.Context, job *types.Job, status types.JobStatusValue, msg string, summary *pipeline.Summary, start time.Time) {
	if err := w.queue.UpdateStatus(ctx, job.JobID, status, msg); err != nil {
		log.Printf("[Worker %s] Failed to update status for job %s: %v", w.id, job.JobID, err)
	}

	run := &models.ScrapeRun{
		JobID:      job.JobID,
		Email:      job.Email,
		Queue:      w.cfg.QueueName,
		Status:     string(status),
		Message:    msg,
		Duration:   time.Since(start),
		FinishedAt: time.Now().UTC(),
	}
	if summary != nil {
		run.SectionsSaved = int32(summary.SectionsSaved)
		run.RowsSaved = int32(summary.RowsSaved)
	}
	w.audit.RecordBestEffort(ctx, run)
}

// heartbeat refreshes the job's lease until the pipeline returns, so
// the reaper can tell a live long-running scrape from a dead worker.
func (w *ScrapeWorker) heartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(w.cfg.HeartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.queue.RefreshLease(ctx, jobID, w.cfg.LeaseTTL); err != nil {
				log.Printf("[Worker %s] Failed to refresh lease for job %s: %v", w.id, jobID, err)
			}
		}
	}
}

// sleep waits for the given duration, returning false if the worker
// should shut down instead.
func (w *ScrapeWorker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-w.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}
