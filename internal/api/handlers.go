package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/odvcencio/issuelens/internal/analyze"
	"github.com/odvcencio/issuelens/internal/ingest"
	"github.com/odvcencio/issuelens/internal/llm"
	"github.com/odvcencio/issuelens/internal/models"
	"github.com/odvcencio/issuelens/internal/upstream"
)

type scanRequest struct {
	Repo string `json:"repo"`
}

type scanResponse struct {
	Repo         string    `json:"repo"`
	IssuesCached int       `json:"issues_cached"`
	SkippedCount int       `json:"skipped_count"`
	Timestamp    time.Time `json:"timestamp"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	repo := strings.TrimSpace(req.Repo)
	if repo == "" {
		jsonError(w, `missing required field: repo (example: {"repo": "owner/name"})`, http.StatusBadRequest)
		return
	}

	rec, err := s.ingestSvc.Scan(r.Context(), repo)
	if err != nil {
		s.writeScanError(w, r, repo, err)
		return
	}
	jsonResponse(w, http.StatusOK, scanResponse{
		Repo:         rec.RepoName,
		IssuesCached: rec.IssueCount,
		SkippedCount: rec.SkippedCount,
		Timestamp:    rec.LastScanAt,
	})
}

func (s *Server) writeScanError(w http.ResponseWriter, r *http.Request, repo string, err error) {
	switch {
	case errors.Is(err, upstream.ErrInvalidRepository):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ingest.ErrScanInProgress):
		jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, upstream.ErrAuthRejected),
		errors.Is(err, upstream.ErrUpstreamUnavailable):
		jsonError(w, "failed to fetch issues from upstream: "+err.Error(), http.StatusBadGateway)
	default:
		slog.Error("scan failed", "error", err, "repo", repo, "request_id", requestID(r.Context()))
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

type analyzeRequest struct {
	Repo           string `json:"repo"`
	Prompt         string `json:"prompt"`
	MaxBatchTokens int    `json:"max_batch_tokens,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Repo) == "" || strings.TrimSpace(req.Prompt) == "" {
		jsonError(w, "missing required fields: repo and prompt", http.StatusBadRequest)
		return
	}

	result, err := s.analyzeSvc.Analyze(r.Context(), models.AnalysisRequest{
		RepoName:       req.Repo,
		Prompt:         req.Prompt,
		MaxBatchTokens: req.MaxBatchTokens,
	})
	if err != nil {
		s.writeAnalyzeError(w, r, req.Repo, err)
		return
	}
	jsonResponse(w, http.StatusOK, result)
}

func (s *Server) writeAnalyzeError(w http.ResponseWriter, r *http.Request, repo string, err error) {
	switch {
	case errors.Is(err, analyze.ErrRepositoryNotScanned):
		jsonError(w, "repository not scanned yet, run /scan first", http.StatusNotFound)
	case errors.Is(err, llm.ErrUnavailable), errors.Is(err, llm.ErrRejected):
		jsonError(w, "failed to call LLM backend: "+err.Error(), http.StatusBadGateway)
	default:
		slog.Error("analysis failed", "error", err, "repo", repo, "request_id", requestID(r.Context()))
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) handleGetScanRecord(w http.ResponseWriter, r *http.Request) {
	repo := r.PathValue("owner") + "/" + r.PathValue("repo")
	rec, err := s.store.GetScanRecord(r.Context(), repo)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			jsonError(w, "repository not scanned", http.StatusNotFound)
			return
		}
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, http.StatusOK, rec)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
