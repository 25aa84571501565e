package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joescharf/mend/internal/models"
	"github.com/joescharf/mend/internal/store"
)

// Server provides the REST API handlers.
type Server struct {
	store store.Store
	log   *slog.Logger
}

// NewServer creates a new API server.
func NewServer(s store.Store, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{store: s, log: log}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/issues", s.listIssues)
	mux.HandleFunc("POST /api/v1/issues", s.reportIssue)
	mux.HandleFunc("GET /api/v1/issues/{id}", s.getIssue)
	mux.HandleFunc("PUT /api/v1/issues/{id}", s.updateIssue)
	mux.HandleFunc("POST /api/v1/issues/{id}/approve", s.approveIssue)
	mux.HandleFunc("POST /api/v1/issues/{id}/reject", s.rejectIssue)

	mux.HandleFunc("GET /api/v1/status", s.statusOverview)

	return corsMiddleware(s.logMiddleware(mux))
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps store failures onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrIllegalTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrEmptyTitle):
		writeError(w, http.StatusBadRequest, err.Error())
	case strings.Contains(err.Error(), "not found"):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// patchString applies a string value from a JSON patch map to the target if the key is present and non-empty.
func patchString(patch map[string]any, key string, target *string) {
	if v, ok := patch[key]; ok {
		if str, ok := v.(string); ok && str != "" {
			*target = str
		}
	}
}

// --- Issues ---

func (s *Server) listIssues(w http.ResponseWriter, r *http.Request) {
	filter := store.IssueListFilter{
		Status: models.IssueStatus(r.URL.Query().Get("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status: "+string(filter.Status))
		return
	}
	issues, err := s.store.ListIssues(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if issues == nil {
		issues = []*models.Issue{}
	}
	writeJSON(w, http.StatusOK, issues)
}

func (s *Server) reportIssue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title              string `json:"title"`
		Description        string `json:"description"`
		SourceURL          string `json:"source_url"`
		ManualInstructions string `json:"manual_instructions"`
		CreatedBy          string `json:"created_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	issue := &models.Issue{
		Title:              req.Title,
		Description:        req.Description,
		SourceURL:          req.SourceURL,
		ManualInstructions: req.ManualInstructions,
		CreatedBy:          req.CreatedBy,
	}
	if issue.CreatedBy == "" {
		issue.CreatedBy = "api"
	}
	if err := s.store.CreateIssue(r.Context(), issue); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, issue)
}

func (s *Server) getIssue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	issue, err := s.store.GetIssue(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// updateIssue patches descriptive fields only. Status moves through the
// approve/reject endpoints and the worker, never through a blind write.
func (s *Server) updateIssue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := s.store.GetIssue(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if _, ok := patch["status"]; ok {
		writeError(w, http.StatusBadRequest, "status cannot be set directly; use approve/reject")
		return
	}

	// Empty strings are treated as "not provided" to avoid wiping existing data.
	patchString(patch, "title", &existing.Title)
	patchString(patch, "description", &existing.Description)
	patchString(patch, "source_url", &existing.SourceURL)
	patchString(patch, "manual_instructions", &existing.ManualInstructions)

	if err := s.store.UpdateIssue(r.Context(), existing); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *Server) approveIssue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		ApprovedBy string `json:"approved_by"`
	}
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if req.ApprovedBy == "" {
		req.ApprovedBy = "api"
	}

	issue, err := s.store.ApproveIssue(r.Context(), id, req.ApprovedBy)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (s *Server) rejectIssue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	issue, err := s.store.RejectIssue(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// --- Status ---

func (s *Server) statusOverview(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountIssuesByStatus(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	total := 0
	byStatus := make(map[string]int, len(counts))
	for status, n := range counts {
		byStatus[string(status)] = n
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":     total,
		"by_status": byStatus,
	})
}
