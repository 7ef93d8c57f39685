package scrape

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"

	"github.com/dhruv2003/Scrapper/internal/config"
	"github.com/dhruv2003/Scrapper/internal/logging"
	"github.com/dhruv2003/Scrapper/internal/types"
)

// portalSections maps each scraped section to its dashboard route and
// the selector of the table rendered there. The plastic, battery and
// e-waste portals run the same Angular frontend, so the dashboard
// routes are shared; only the origin and the login landing page differ
// per record type. Routes and selectors break whenever the frontend is
// redeployed.
var portalSections = []struct {
	name string
	path string
}{
	{SectionProcurement, "/#/epr/producer/material-procurement"},
	{SectionSales, "/#/epr/producer/sales-list"},
	{SectionWallet, "/#/epr/producer/wallet-list"},
	{SectionTarget, "/#/epr/producer/target-list"},
	{SectionAnnual, "/#/epr/producer/annual-report"},
	{SectionCompliance, "/#/epr/producer/compliance-status"},
	{SectionNextTarget, "/#/epr/producer/next-target"},
}

// loginPaths is the per-record-type landing page carrying the login
// form.
var loginPaths = map[string]string{
	types.RecordTypePlastic: "/#/plastic/home",
	types.RecordTypeBattery: "/#/battery/home",
	types.RecordTypeEWaste:  "/#/ewaste/home",
}

// recordTypeOf returns the job's record type, defaulting to plastic for
// payloads enqueued before record types existed.
func recordTypeOf(job *types.Job) (string, error) {
	rt := job.Param("record_type")
	if rt == "" {
		return types.RecordTypePlastic, nil
	}
	if !types.ValidRecordType(rt) {
		return "", fmt.Errorf("unknown record type %q", rt)
	}
	return rt, nil
}

// extractTableJS pulls the first rendered table on the page into a
// {columns, rows} shape.
const extractTableJS = `(() => {
	const table = document.querySelector("table");
	if (!table) {
		return {columns: [], rows: []};
	}
	const columns = Array.from(table.querySelectorAll("thead th"))
		.map(th => th.innerText.trim());
	const rows = Array.from(table.querySelectorAll("tbody tr"))
		.map(tr => Array.from(tr.querySelectorAll("td")).map(td => td.innerText.trim()));
	return {columns, rows};
})()`

const entityHeaderJS = `(() => {
	const name = document.querySelector(".profile-header .entity-name");
	const type = document.querySelector(".profile-header .entity-type");
	return {
		name: name ? name.innerText.trim() : "",
		type: type ? type.innerText.trim() : "",
	};
})()`

// PortalScraper drives a Chrome session against the compliance portal.
// Login requires a human to solve the portal captcha, so the browser
// runs non-headless by default and the scraper waits (bounded) for the
// dashboard to appear after submitting credentials.
type PortalScraper struct {
	cfg    *config.PortalConfig
	logger *logging.Logger
}

// NewPortalScraper creates a portal scraper.
func NewPortalScraper(cfg *config.PortalConfig, logger *logging.Logger) *PortalScraper {
	if logger == nil {
		logger = logging.Global()
	}
	return &PortalScraper{cfg: cfg, logger: logger}
}

// Scrape implements Scraper. It blocks for the whole browser session,
// including the manual captcha wait.
func (s *PortalScraper) Scrape(ctx context.Context, job *types.Job) (*Result, error) {
	recordType, err := recordTypeOf(job)
	if err != nil {
		return nil, err
	}
	baseURL := s.cfg.BaseURLFor(recordType)
	if baseURL == "" {
		return nil, fmt.Errorf("no portal configured for record type %s", recordType)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	if err := s.login(taskCtx, job, baseURL+loginPaths[recordType]); err != nil {
		return nil, err
	}

	result := &Result{Sections: make(map[string]*Table)}
	if err := s.readEntityHeader(taskCtx, result); err != nil {
		s.logger.WithError(err).Warn("Failed to read entity header, using job identity")
	}

	for _, section := range portalSections {
		table, err := s.extractSection(taskCtx, baseURL+section.path)
		if err != nil {
			return nil, fmt.Errorf("failed to scrape section %s: %w", section.name, err)
		}
		if table.IsEmpty() {
			s.logger.Debugf("Section %s returned no rows", section.name)
		}
		table.Stamp(result.EntityType, result.EntityName, job.Email)
		result.Sections[section.name] = table
	}

	return result, nil
}

// login fills the credential form, then waits for a human to complete
// the captcha. The wait ends when the dashboard renders or the
// configured bound elapses.
func (s *PortalScraper) login(ctx context.Context, job *types.Job, loginURL string) error {
	err := chromedp.Run(ctx,
		chromedp.Navigate(loginURL),
		chromedp.WaitVisible(`input[formcontrolname="username"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[formcontrolname="username"]`, job.Email, chromedp.ByQuery),
		chromedp.SendKeys(`input[formcontrolname="password"]`, job.Password, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("failed to open login form: %w", err)
	}

	s.logger.Infof("Waiting up to %s for manual captcha completion for %s", s.cfg.ManualLoginWait, job.Email)

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.ManualLoginWait)
	defer cancel()
	err = chromedp.Run(waitCtx,
		chromedp.WaitVisible(`.dashboard-container`, chromedp.ByQuery),
	)
	if err != nil {
		if waitCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("login not completed within %s for %s", s.cfg.ManualLoginWait, job.Email)
		}
		return fmt.Errorf("login failed for %s: %w", job.Email, err)
	}
	return nil
}

func (s *PortalScraper) readEntityHeader(ctx context.Context, result *Result) error {
	var header struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}
	if err := chromedp.Run(ctx, chromedp.Evaluate(entityHeaderJS, &header)); err != nil {
		return err
	}
	result.EntityName = header.Name
	result.EntityType = header.Type
	return nil
}

func (s *PortalScraper) extractSection(ctx context.Context, url string) (*Table, error) {
	var raw struct {
		Columns []string        `json:"columns"`
		Rows    [][]interface{} `json:"rows"`
	}
	err := chromedp.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.cfg.PageSettle),
		chromedp.Evaluate(extractTableJS, &raw),
	)
	if err != nil {
		return nil, err
	}

	table := NewTable(raw.Columns...)
	for _, row := range raw.Rows {
		table.AppendRow(row...)
	}
	return table, nil
}
