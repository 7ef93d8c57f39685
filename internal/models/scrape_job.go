// Package models defines the relational and archive row types.
package models

import (
	"time"
)

// ScrapeJob represents one scrape invocation (one row per run)
type ScrapeJob struct {
	ID         string    `json:"id" db:"id"`
	Email      string    `json:"email" db:"email"`
	EntityName string    `json:"entityName" db:"entity_name"`
	EntityType string    `json:"entityType" db:"entity_type"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

// NextTarget represents one projected-target row scraped for a job
type NextTarget struct {
	ID              int64     `json:"id" db:"id"`
	JobID           string    `json:"jobId" db:"job_id"`
	Email           string    `json:"email" db:"email"`
	EntityName      string    `json:"entityName" db:"entity_name"`
	NextYear        int       `json:"nextYear" db:"next_year"`
	ProjectedAmount float64   `json:"projectedAmount" db:"projected_amount"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
}

// ScrapeRun is an append-only archive record of a finished worker run
type ScrapeRun struct {
	JobID         string        `json:"jobId"`
	Email         string        `json:"email"`
	Queue         string        `json:"queue"`
	Status        string        `json:"status"` // completed, failed
	Message       string        `json:"message"`
	SectionsSaved int32         `json:"sectionsSaved"`
	RowsSaved     int32         `json:"rowsSaved"`
	Duration      time.Duration `json:"duration"`
	FinishedAt    time.Time     `json:"finishedAt"`
}
