// Package api provides the HTTP surface over the job queue and the
// persisted scrape data: enqueue a scrape, poll its status, read an
// entity's document view, and export it as a workbook.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dhruv2003/Scrapper/internal/config"
	"github.com/dhruv2003/Scrapper/internal/models"
	"github.com/dhruv2003/Scrapper/internal/queue"
	"github.com/dhruv2003/Scrapper/internal/scrape"
)

// DocumentReader serves entity document views with overflow references
// resolved.
type DocumentReader interface {
	Get(ctx context.Context, email, year string) (map[string]interface{}, error)
}

// TargetLister serves the relational next-target projections.
type TargetLister interface {
	ListNextTargets(ctx context.Context, email string) ([]*models.NextTarget, error)
}

// Exporter renders an entity document view as a spreadsheet.
type Exporter interface {
	Workbook(view map[string]interface{}) ([]byte, error)
}

// Server represents the HTTP API server.
type Server struct {
	router      *mux.Router
	httpServer  *http.Server
	queue       *queue.Client
	credentials scrape.CredentialStore
	documents   DocumentReader
	targets     TargetLister
	exporter    Exporter
	cfg         *config.Config
}

// NewServer creates a new API server instance.
func NewServer(cfg *config.Config, queueClient *queue.Client, credentials scrape.CredentialStore, documents DocumentReader, targets TargetLister, exporter Exporter) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		queue:       queueClient,
		credentials: credentials,
		documents:   documents,
		targets:     targets,
		exporter:    exporter,
		cfg:         cfg,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.cfg.Server.RequestsPerSec)

	// Middleware order matters: auth runs after CORS so preflight
	// requests pass without a token.
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(AuthMiddleware(s.cfg.Auth.Token))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/auth/login", s.handleLogin).Methods("POST")

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/scrape", s.handleScrape).Methods("POST")
	api.HandleFunc("/jobs", s.handleListJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}/status", s.handleJobStatus).Methods("GET")
	api.HandleFunc("/queue", s.handlePeekQueue).Methods("GET")

	api.HandleFunc("/entities/{email}", s.handleGetEntity).Methods("GET")
	api.HandleFunc("/entities/{email}/export", s.handleExportEntity).Methods("GET")
	api.HandleFunc("/entities/{email}/next-targets", s.handleNextTargets).Methods("GET")
}

// Router returns the configured handler, for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving HTTP requests; it blocks until the server stops.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
