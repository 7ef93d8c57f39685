package storage

import (
	"context"
	"fmt"

	"github.com/dhruv2003/Scrapper/internal/logging"
	"github.com/dhruv2003/Scrapper/internal/models"
)

// AuditRepository archives finished scrape runs in ClickHouse. The
// archive is best-effort: workers log and continue when it is down.
type AuditRepository struct {
	db     *ClickHouseDB
	logger *logging.Logger
}

// NewAuditRepository creates a new scrape-run audit repository
func NewAuditRepository(db *ClickHouseDB, logger *logging.Logger) *AuditRepository {
	if logger == nil {
		logger = logging.Global()
	}
	return &AuditRepository{db: db, logger: logger}
}

// EnsureSchema creates the scrape_runs table if it does not exist
func (r *AuditRepository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS scrape_runs (
			job_id         String,
			email          String,
			queue          String,
			status         String,
			message        String,
			sections_saved Int32,
			rows_saved     Int32,
			duration_ms    Int64,
			finished_at    DateTime
		) ENGINE = MergeTree()
		ORDER BY (email, finished_at)
	`
	if err := r.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create scrape_runs table: %w", err)
	}
	return nil
}

// Record appends one finished run to the archive
func (r *AuditRepository) Record(ctx context.Context, run *models.ScrapeRun) error {
	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO scrape_runs (
			job_id, email, queue, status, message,
			sections_saved, rows_saved, duration_ms, finished_at
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare scrape_runs batch: %w", err)
	}

	if err := batch.Append(
		run.JobID,
		run.Email,
		run.Queue,
		run.Status,
		run.Message,
		run.SectionsSaved,
		run.RowsSaved,
		run.Duration.Milliseconds(),
		run.FinishedAt,
	); err != nil {
		return fmt.Errorf("failed to append scrape run: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send scrape run batch: %w", err)
	}
	return nil
}

// RecordBestEffort records a run, logging instead of failing when the
// archive is unreachable.
func (r *AuditRepository) RecordBestEffort(ctx context.Context, run *models.ScrapeRun) {
	if r == nil || r.db == nil {
		return
	}
	if err := r.Record(ctx, run); err != nil {
		r.logger.WithError(err).Warnf("Failed to archive scrape run %s", run.JobID)
	}
}
