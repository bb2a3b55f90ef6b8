package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/odvcencio/issuelens/internal/models"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode and foreign keys
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %s: %w", pragma, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS issues (
	repo_name TEXT NOT NULL,
	issue_id INTEGER NOT NULL,
	number INTEGER NOT NULL DEFAULT 0,
	title TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL DEFAULT 'open',
	labels TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	cached_at DATETIME NOT NULL,
	PRIMARY KEY (repo_name, issue_id)
);

CREATE TABLE IF NOT EXISTS scan_records (
	repo_name TEXT PRIMARY KEY,
	last_scan_at DATETIME NOT NULL,
	issue_count INTEGER NOT NULL DEFAULT 0,
	skipped_count INTEGER NOT NULL DEFAULT 0
);
`

const upsertIssueSQL = `
INSERT INTO issues (repo_name, issue_id, number, title, body, url, state, labels, created_at, updated_at, cached_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(repo_name, issue_id) DO UPDATE SET
	number = excluded.number,
	title = excluded.title,
	body = excluded.body,
	url = excluded.url,
	state = excluded.state,
	labels = excluded.labels,
	created_at = excluded.created_at,
	updated_at = excluded.updated_at,
	cached_at = excluded.cached_at`

func (s *SQLiteStore) PutIssue(ctx context.Context, issue *models.Issue) error {
	labels, err := encodeLabels(issue.Labels)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, upsertIssueSQL,
		issue.RepoName, issue.IssueID, issue.Number, issue.Title, issue.Body,
		issue.URL, issue.State, labels,
		issue.CreatedAt.UTC(), issue.UpdatedAt.UTC(), issue.CachedAt.UTC())
	return err
}

func (s *SQLiteStore) PutIssues(ctx context.Context, issues []models.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, upsertIssueSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i := range issues {
		issue := &issues[i]
		labels, err := encodeLabels(issue.Labels)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			issue.RepoName, issue.IssueID, issue.Number, issue.Title, issue.Body,
			issue.URL, issue.State, labels,
			issue.CreatedAt.UTC(), issue.UpdatedAt.UTC(), issue.CachedAt.UTC()); err != nil {
			return fmt.Errorf("upsert issue %d: %w", issue.IssueID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetIssue(ctx context.Context, repoName string, issueID int64) (*models.Issue, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT repo_name, issue_id, number, title, body, url, state, labels, created_at, updated_at, cached_at
		 FROM issues WHERE repo_name = ? AND issue_id = ?`, repoName, issueID)
	return scanIssue(row)
}

// ListIssues returns every cached issue for a repository ordered by issue id,
// so batch composition is stable across reads.
func (s *SQLiteStore) ListIssues(ctx context.Context, repoName string) ([]models.Issue, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT repo_name, issue_id, number, title, body, url, state, labels, created_at, updated_at, cached_at
		 FROM issues WHERE repo_name = ? ORDER BY issue_id`, repoName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []models.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, *issue)
	}
	return issues, rows.Err()
}

func (s *SQLiteStore) GetScanRecord(ctx context.Context, repoName string) (*models.ScanRecord, error) {
	var rec models.ScanRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT repo_name, last_scan_at, issue_count, skipped_count FROM scan_records WHERE repo_name = ?`,
		repoName).Scan(&rec.RepoName, &rec.LastScanAt, &rec.IssueCount, &rec.SkippedCount)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteStore) PutScanRecord(ctx context.Context, rec *models.ScanRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_records (repo_name, last_scan_at, issue_count, skipped_count)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(repo_name) DO UPDATE SET
			last_scan_at = excluded.last_scan_at,
			issue_count = excluded.issue_count,
			skipped_count = excluded.skipped_count`,
		rec.RepoName, rec.LastScanAt.UTC(), rec.IssueCount, rec.SkippedCount)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssue(row rowScanner) (*models.Issue, error) {
	var issue models.Issue
	var labels string
	var created, updated, cached time.Time
	if err := row.Scan(&issue.RepoName, &issue.IssueID, &issue.Number, &issue.Title,
		&issue.Body, &issue.URL, &issue.State, &labels, &created, &updated, &cached); err != nil {
		return nil, err
	}
	issue.CreatedAt = created
	issue.UpdatedAt = updated
	issue.CachedAt = cached
	if err := json.Unmarshal([]byte(labels), &issue.Labels); err != nil {
		return nil, fmt.Errorf("decode labels for issue %d: %w", issue.IssueID, err)
	}
	return &issue, nil
}

func encodeLabels(labels []string) (string, error) {
	if labels == nil {
		labels = []string{}
	}
	data, err := json.Marshal(labels)
	if err != nil {
		return "", fmt.Errorf("encode labels: %w", err)
	}
	return string(data), nil
}
