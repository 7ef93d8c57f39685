// Package pipeline runs one scrape job end to end: record the
// invocation, drive the portal scraper, persist next-target projections
// relationally and everything else into the document store.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dhruv2003/Scrapper/internal/docstore"
	"github.com/dhruv2003/Scrapper/internal/logging"
	"github.com/dhruv2003/Scrapper/internal/models"
	"github.com/dhruv2003/Scrapper/internal/scrape"
	"github.com/dhruv2003/Scrapper/internal/storage"
	"github.com/dhruv2003/Scrapper/internal/types"
)

// JobStore persists scrape invocations and their next-target rows.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.ScrapeJob) error
	SaveNextTargets(ctx context.Context, jobID, email, entityName string, table *scrape.Table) (int, error)
}

// DocumentEngine merges scraped sections into the entity document.
type DocumentEngine interface {
	Save(ctx context.Context, sections map[string]*scrape.Table, email, companyName, entityType, year string) (*docstore.SaveReport, error)
}

// Summary reports what one pipeline run persisted.
type Summary struct {
	JobID         string            `json:"job_id"`
	Years         []string          `json:"years"`
	SectionsSaved int               `json:"sections_saved"`
	RowsSaved     int               `json:"rows_saved"`
	NextTargets   int               `json:"next_targets"`
	SectionErrors map[string]string `json:"section_errors,omitempty"`
}

// Pipeline wires the scraper to both persistence layers.
type Pipeline struct {
	scraper scrape.Scraper
	jobs    JobStore
	docs    DocumentEngine
	logger  *logging.Logger
	now     func() time.Time
}

// New creates a pipeline.
func New(scraper scrape.Scraper, jobs JobStore, docs DocumentEngine, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Global()
	}
	return &Pipeline{
		scraper: scraper,
		jobs:    jobs,
		docs:    docs,
		logger:  logger,
		now:     time.Now,
	}
}

// Run executes one scrape job. A database connectivity failure aborts
// the run and surfaces as an operational error; individual section
// failures are collected in the summary instead.
func (p *Pipeline) Run(ctx context.Context, job *types.Job) (*Summary, error) {
	summary := &Summary{JobID: job.JobID}

	record := &models.ScrapeJob{
		ID:         job.JobID,
		Email:      job.Email,
		EntityName: job.EntityName,
		EntityType: job.EntityType,
		CreatedAt:  p.now().UTC(),
	}
	if err := p.jobs.CreateJob(ctx, record); err != nil {
		return summary, fmt.Errorf("failed to record scrape invocation: %w", err)
	}

	result, err := p.scraper.Scrape(ctx, job)
	if err != nil {
		return summary, fmt.Errorf("scrape failed for %s: %w", job.Email, err)
	}

	entityName := firstNonEmpty(result.EntityName, job.EntityName)
	entityType := firstNonEmpty(result.EntityType, job.EntityType)

	if targets := result.Sections[scrape.SectionNextTarget]; targets != nil && !targets.IsEmpty() {
		n, err := p.jobs.SaveNextTargets(ctx, job.JobID, job.Email, entityName, targets)
		if err != nil {
			if storage.IsOperational(err) {
				return summary, err
			}
			p.logger.WithError(err).Warnf("Failed to save next targets for %s", job.Email)
			if summary.SectionErrors == nil {
				summary.SectionErrors = make(map[string]string)
			}
			summary.SectionErrors[scrape.SectionNextTarget] = err.Error()
		} else {
			summary.NextTargets = n
		}
	}

	year := job.Param("year")
	report, err := p.docs.Save(ctx, result.Sections, job.Email, entityName, entityType, year)
	if err != nil {
		return summary, fmt.Errorf("failed to persist scrape results for %s: %w", job.Email, err)
	}

	summary.Years = report.Years
	summary.SectionsSaved = report.SectionsSaved
	summary.RowsSaved = report.RowsSaved
	for section, msg := range report.SectionErrors {
		if summary.SectionErrors == nil {
			summary.SectionErrors = make(map[string]string)
		}
		summary.SectionErrors[section] = msg
	}

	p.logger.WithFields(map[string]interface{}{
		"job_id":   job.JobID,
		"email":    job.Email,
		"sections": summary.SectionsSaved,
		"rows":     summary.RowsSaved,
		"targets":  summary.NextTargets,
	}).Info("Scrape pipeline finished")
	return summary, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
