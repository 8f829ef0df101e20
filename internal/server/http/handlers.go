package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/amirshapkota/research-index/internal/citesync"
	"github.com/amirshapkota/research-index/internal/domain"
	"github.com/amirshapkota/research-index/internal/engine"
)

const (
	// maxRequestBodySize bounds JSON request bodies.
	maxRequestBodySize = 1 << 20

	defaultHistorySize = 10
	maxHistorySize     = 20
)

// startSyncRequest is the JSON body for POST /sync/publications.
type startSyncRequest struct {
	Limit             int   `json:"limit" validate:"gte=0,lte=1000000"`
	PerJournalLimit   int   `json:"per_journal_limit" validate:"gte=0,lte=100000"`
	ForceRefresh      bool  `json:"force_refresh"`
	SkipDuplicates    *bool `json:"skip_duplicates"`
	DownloadDocuments bool  `json:"download_documents"`
}

// citationSyncRequest is the JSON body for POST /sync/citations.
type citationSyncRequest struct {
	Force     bool   `json:"force"`
	JournalID string `json:"journal_id" validate:"omitempty,uuid"`
	Limit     int    `json:"limit" validate:"gte=0,lte=100000"`
}

// statsResponse is the JSON body for POST /stats/recalculate.
type statsResponse struct {
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// startPublicationSync handles POST /api/v1/sync/publications. It launches a
// background ingestion run and returns 202 with the run snapshot, or 409
// when a run is already active.
func (s *Server) startPublicationSync(w http.ResponseWriter, r *http.Request) {
	var req startSyncRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	opts := engine.Options{
		Limit:             req.Limit,
		PerJournalLimit:   req.PerJournalLimit,
		ForceRefresh:      req.ForceRefresh,
		SkipDuplicates:    true,
		DownloadDocuments: req.DownloadDocuments,
	}
	if req.SkipDuplicates != nil {
		opts.SkipDuplicates = *req.SkipDuplicates
	}

	// The run outlives this request; detach cancellation so closing the
	// connection does not abort an accepted sync.
	run, err := s.engine.Start(context.WithoutCancel(r.Context()), opts)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, run)
}

// stopPublicationSync handles POST /api/v1/sync/publications/stop. The stop
// is cooperative: the active run finishes its current record first.
func (s *Server) stopPublicationSync(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Stop(); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stop_requested"})
}

// publicationSyncStatus handles GET /api/v1/sync/publications/status.
func (s *Server) publicationSyncStatus(w http.ResponseWriter, r *http.Request) {
	run, ok := s.engine.Status()
	if !ok {
		writeError(w, http.StatusNotFound, "no sync run recorded")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// publicationSyncHistory handles GET /api/v1/sync/publications/history.
func (s *Server) publicationSyncHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistorySize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxHistorySize {
		limit = maxHistorySize
	}

	history := s.engine.History()
	if len(history) > limit {
		history = history[:limit]
	}

	response := map[string]interface{}{
		"runs":  history,
		"count": len(history),
	}
	if s.catalog != nil {
		totals, err := s.catalog.Totals(r.Context())
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to read catalog totals")
		} else {
			response["catalog"] = totals
		}
	}
	writeJSON(w, http.StatusOK, response)
}

// runCitationSync handles POST /api/v1/sync/citations. The pass runs
// synchronously and returns its outcome counts.
func (s *Server) runCitationSync(w http.ResponseWriter, r *http.Request) {
	var req citationSyncRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	opts := citesync.Options{
		Force: req.Force,
		Limit: req.Limit,
	}
	if req.JournalID != "" {
		id, err := uuid.Parse(req.JournalID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "journal_id must be a valid UUID")
			return
		}
		opts.JournalID = &id
	}

	result, err := s.citations.Run(r.Context(), opts)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// recalculateStats handles POST /api/v1/stats/recalculate.
func (s *Server) recalculateStats(w http.ResponseWriter, r *http.Request) {
	updated, failed, err := s.stats.RecalculateAll(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Updated: updated, Failed: failed})
}

// decodeBody reads, decodes, and validates a JSON request body into dst. An
// empty body is allowed and leaves dst at its zero value. Returns false
// after writing an error response.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, dst); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON request body")
			return false
		}
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return false
	}
	return true
}

// writeDomainError maps domain errors to HTTP status codes. Internal error
// details are not leaked to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrSyncBusy):
		writeError(w, http.StatusConflict, "a sync run is already in progress")
	case errors.Is(err, domain.ErrSyncNotRunning):
		writeError(w, http.StatusConflict, "no sync run is in progress")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited by upstream source")
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
