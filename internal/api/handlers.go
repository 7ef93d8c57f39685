package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dhruv2003/Scrapper/internal/queue"
	"github.com/dhruv2003/Scrapper/internal/scrape"
	"github.com/dhruv2003/Scrapper/internal/types"
)

// loginRequest is the credential payload for the token exchange.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleLogin exchanges the configured admin credentials for the API
// token every other endpoint requires.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Email), []byte(s.cfg.Auth.AdminUser)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.cfg.Auth.AdminPassword)) == 1
	if !userOK || !passOK {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Invalid credentials", nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"token":      s.cfg.Auth.Token,
		"token_type": "bearer",
	})
}

// scrapeRequest is the payload accepted by POST /api/scrape.
type scrapeRequest struct {
	Email      string            `json:"email"`
	Password   string            `json:"password,omitempty"`
	RecordType string            `json:"record_type,omitempty"`
	EntityName string            `json:"entity_name,omitempty"`
	EntityType string            `json:"entity_type,omitempty"`
	Year       string            `json:"year,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
}

// handleScrape accepts a scrape request and enqueues it onto the queue
// for its record type. An identity with no payload password and no
// credentials file entry is rejected up front, so nothing unscrapeable
// ever reaches a worker. The response reports queueing success only;
// callers poll the status endpoint.
func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Email == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "email is required", nil)
		return
	}
	recordType := req.RecordType
	if recordType == "" {
		recordType = types.RecordTypePlastic
	}
	if !types.ValidRecordType(recordType) {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput,
			fmt.Sprintf("unknown record type %q", req.RecordType), nil)
		return
	}

	job := &types.Job{
		Email:      req.Email,
		Password:   req.Password,
		EntityName: req.EntityName,
		EntityType: req.EntityType,
		Params:     req.Params,
	}
	job.SetParam("record_type", recordType)
	if req.Year != "" {
		job.SetParam("year", req.Year)
	}

	// The worker re-checks before scraping; this check keeps unknown
	// identities out of the queue entirely.
	if err := scrape.BackfillCredentials(job, s.credentials); err != nil {
		respondError(w, http.StatusNotFound, ErrCodeNotFound,
			fmt.Sprintf("No credentials found for %s", req.Email), nil)
		return
	}

	jobID, err := s.queue.Enqueue(r.Context(), types.QueueForRecord(recordType), job)
	if err != nil {
		if errors.Is(err, queue.ErrQueueUnavailable) {
			respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Queue service unavailable", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to enqueue job", nil)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(types.StatusQueued),
	})
}

// handleJobStatus returns the current status of one job.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	status, err := s.queue.GetStatus(r.Context(), jobID)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Queue service unavailable", nil)
		return
	}
	if status == nil {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, fmt.Sprintf("No status for job %s", jobID), nil)
		return
	}

	respondJSON(w, http.StatusOK, status)
}

// handleListJobs returns every known job status.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.queue.ListStatuses(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Queue service unavailable", nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  statuses,
		"count": len(statuses),
	})
}

// queuedJobView is a pending job without its credential fields.
type queuedJobView struct {
	JobID      string `json:"job_id"`
	Email      string `json:"email"`
	EntityName string `json:"entity_name,omitempty"`
	EntityType string `json:"entity_type,omitempty"`
}

// handlePeekQueue lists pending jobs without consuming them.
func (s *Server) handlePeekQueue(w http.ResponseWriter, r *http.Request) {
	queueName := r.URL.Query().Get("queue")
	if queueName == "" {
		queueName = s.cfg.Worker.QueueName
	}

	jobs, err := s.queue.PeekQueue(r.Context(), queueName)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Queue service unavailable", nil)
		return
	}

	views := make([]queuedJobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, queuedJobView{
			JobID:      job.JobID,
			Email:      job.Email,
			EntityName: job.EntityName,
			EntityType: job.EntityType,
		})
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"queue":   queueName,
		"pending": views,
		"count":   len(views),
	})
}

// handleGetEntity returns the persisted document view for an identity,
// optionally restricted to one year.
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	email := mux.Vars(r)["email"]
	year := r.URL.Query().Get("year")

	view, err := s.documents.Get(r.Context(), email, year)
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to fetch entity data", nil)
		return
	}
	if view == nil {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, fmt.Sprintf("No data for %s", email), nil)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

// handleExportEntity streams the entity document view as an xlsx
// workbook.
func (s *Server) handleExportEntity(w http.ResponseWriter, r *http.Request) {
	email := mux.Vars(r)["email"]
	year := r.URL.Query().Get("year")

	view, err := s.documents.Get(r.Context(), email, year)
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to fetch entity data", nil)
		return
	}
	if view == nil {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, fmt.Sprintf("No data for %s", email), nil)
		return
	}

	data, err := s.exporter.Workbook(view)
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to build workbook", nil)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.xlsx"`, email))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleNextTargets lists the relational next-target projections for an
// identity.
func (s *Server) handleNextTargets(w http.ResponseWriter, r *http.Request) {
	email := mux.Vars(r)["email"]

	targets, err := s.targets.ListNextTargets(r.Context(), email)
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to fetch next targets", nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"email":   email,
		"targets": targets,
		"count":   len(targets),
	})
}

// handleHealth reports service liveness and queue reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	queueStatus := "ok"
	code := http.StatusOK
	if !s.queue.EnsureConnection(r.Context()) {
		queueStatus = "unavailable"
		code = http.StatusServiceUnavailable
	}

	respondJSON(w, code, map[string]string{
		"status": "ok",
		"queue":  queueStatus,
	})
}
