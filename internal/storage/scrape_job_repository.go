package storage

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dhruv2003/Scrapper/internal/models"
	"github.com/dhruv2003/Scrapper/internal/scrape"
)

// ScrapeJobRepository handles scrape job and next-target persistence
type ScrapeJobRepository struct {
	db *PostgresDB
}

// NewScrapeJobRepository creates a new scrape job repository
func NewScrapeJobRepository(db *PostgresDB) *ScrapeJobRepository {
	return &ScrapeJobRepository{db: db}
}

// DB returns the underlying database connection for raw queries
func (r *ScrapeJobRepository) DB() *PostgresDB {
	return r.db
}

// CreateJob records one scrape invocation
func (r *ScrapeJobRepository) CreateJob(ctx context.Context, job *models.ScrapeJob) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO scrape_jobs (id, email, entity_name, entity_type, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		job.ID,
		job.Email,
		job.EntityName,
		job.EntityType,
		job.CreatedAt,
	)
	if err != nil {
		return classify("create scrape job", err)
	}

	return nil
}

// GetJob retrieves a scrape job by id
func (r *ScrapeJobRepository) GetJob(ctx context.Context, id string) (*models.ScrapeJob, error) {
	query := `
		SELECT id, email, entity_name, entity_type, created_at
		FROM scrape_jobs
		WHERE id = $1
	`

	var job models.ScrapeJob
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&job.ID,
		&job.Email,
		&job.EntityName,
		&job.EntityType,
		&job.CreatedAt,
	)
	if err != nil {
		return nil, classify("get scrape job", err)
	}

	return &job, nil
}

// SaveNextTargets inserts one row per projected-target record inside a
// single transaction; any failure rolls back every row for the call.
// Year and amount cells are coerced to numbers with a zero fallback.
func (r *ScrapeJobRepository) SaveNextTargets(ctx context.Context, jobID, email, entityName string, table *scrape.Table) (int, error) {
	if table.IsEmpty() {
		return 0, nil
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return 0, classify("begin next targets transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	yearCol := findColumn(table, "year")
	amountCol := findColumn(table, "target", "amount", "quantity")

	query := `
		INSERT INTO next_targets (job_id, email, entity_name, next_year, projected_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	now := time.Now().UTC()
	inserted := 0
	for i := range table.Rows {
		nextYear := coerceYear(table.Value(i, yearCol))
		amount := coerceAmount(table.Value(i, amountCol))

		if _, err := tx.Exec(ctx, query, jobID, email, entityName, nextYear, amount, now); err != nil {
			return 0, classify("insert next target", err)
		}
		inserted++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, classify("commit next targets", err)
	}

	return inserted, nil
}

// ListNextTargets returns the next-target rows saved for an identity,
// newest job first.
func (r *ScrapeJobRepository) ListNextTargets(ctx context.Context, email string) ([]*models.NextTarget, error) {
	query := `
		SELECT id, job_id, email, entity_name, next_year, projected_amount, created_at
		FROM next_targets
		WHERE email = $1
		ORDER BY created_at DESC, next_year ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, email)
	if err != nil {
		return nil, classify("list next targets", err)
	}
	defer rows.Close()

	var targets []*models.NextTarget
	for rows.Next() {
		var t models.NextTarget
		if err := rows.Scan(
			&t.ID,
			&t.JobID,
			&t.Email,
			&t.EntityName,
			&t.NextYear,
			&t.ProjectedAmount,
			&t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan next target: %w", err)
		}
		targets = append(targets, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list next targets", err)
	}

	return targets, nil
}

// findColumn returns the name of the first column whose lowercase name
// contains any of the given substrings, or "" if none match.
func findColumn(table *scrape.Table, needles ...string) string {
	for _, col := range table.Columns {
		name := strings.ToLower(col)
		for _, needle := range needles {
			if strings.Contains(name, needle) {
				return col
			}
		}
	}
	return ""
}

var digitsPattern = regexp.MustCompile(`\d{4}`)

// coerceYear extracts a 4-digit year from a scraped cell, falling back
// to zero when nothing parses.
func coerceYear(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		return int(n)
	case nil:
		return 0
	}
	if match := digitsPattern.FindString(fmt.Sprint(v)); match != "" {
		year, _ := strconv.Atoi(match)
		return year
	}
	return 0
}

// coerceAmount parses a scraped monetary cell, stripping separators,
// falling back to zero when nothing parses.
func coerceAmount(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case nil:
		return 0
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	s = strings.ReplaceAll(s, ",", "")
	amount, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return amount
}
