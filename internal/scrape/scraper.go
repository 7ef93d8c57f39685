package scrape

import (
	"context"

	"github.com/dhruv2003/Scrapper/internal/types"
)

// Result is what a portal scraper produces: the entity identity read
// off the portal dashboard plus one table per scraped section.
type Result struct {
	EntityName string
	EntityType string
	Sections   map[string]*Table
}

// Scraper drives an interactive browser session against a compliance
// portal and extracts the section tables. Implementations are brittle,
// portal-specific DOM traversal; the rest of the system treats them as
// opaque I/O. Scrape may block for the full duration of the session,
// including a bounded manual captcha/OTP wait.
type Scraper interface {
	Scrape(ctx context.Context, job *types.Job) (*Result, error)
}

// ScraperFunc adapts a function to the Scraper interface.
type ScraperFunc func(ctx context.Context, job *types.Job) (*Result, error)

// Scrape implements Scraper.
func (f ScraperFunc) Scrape(ctx context.Context, job *types.Job) (*Result, error) {
	return f(ctx, job)
}
