package models

import "time"

// Issue is one cached item from the upstream tracker, keyed by (RepoName, IssueID).
// Title, Body and URL are never absent; missing upstream fields normalize to "".
type Issue struct {
	RepoName  string    `json:"repo_name"`
	IssueID   int64     `json:"issue_id"`
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	URL       string    `json:"url"`
	State     string    `json:"state"` // "open", "closed"
	Labels    []string  `json:"labels,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CachedAt  time.Time `json:"cached_at"` // set at write time, refreshed on re-scan
}

// ScanRecord marks the most recent completed ingestion for a repository.
// Its presence distinguishes "scanned but empty" from "never scanned".
type ScanRecord struct {
	RepoName     string    `json:"repo_name"`
	LastScanAt   time.Time `json:"last_scan_at"`
	IssueCount   int       `json:"issue_count"`
	SkippedCount int       `json:"skipped_count"`
}

// AnalysisRequest is transient, never persisted.
type AnalysisRequest struct {
	RepoName       string `json:"repo"`
	Prompt         string `json:"prompt"`
	MaxBatchTokens int    `json:"max_batch_tokens,omitempty"` // 0 means use the configured budget
}

type AnalysisResult struct {
	RepoName         string `json:"repo"`
	Prompt           string `json:"prompt"`
	Answer           string `json:"answer"`
	IssuesConsidered int    `json:"issues_considered"`
	BatchesUsed      int    `json:"batches_used"`
}
