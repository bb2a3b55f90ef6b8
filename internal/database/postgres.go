package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/odvcencio/issuelens/internal/models"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type PostgresStore struct {
	db *sql.DB
}

func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, pgSchema)
	return err
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS issues (
	repo_name TEXT NOT NULL,
	issue_id BIGINT NOT NULL,
	number INTEGER NOT NULL DEFAULT 0,
	title TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL DEFAULT 'open',
	labels TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	cached_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (repo_name, issue_id)
);

CREATE TABLE IF NOT EXISTS scan_records (
	repo_name TEXT PRIMARY KEY,
	last_scan_at TIMESTAMPTZ NOT NULL,
	issue_count INTEGER NOT NULL DEFAULT 0,
	skipped_count INTEGER NOT NULL DEFAULT 0
);
`

const pgUpsertIssueSQL = `
INSERT INTO issues (repo_name, issue_id, number, title, body, url, state, labels, created_at, updated_at, cached_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (repo_name, issue_id) DO UPDATE SET
	number = EXCLUDED.number,
	title = EXCLUDED.title,
	body = EXCLUDED.body,
	url = EXCLUDED.url,
	state = EXCLUDED.state,
	labels = EXCLUDED.labels,
	created_at = EXCLUDED.created_at,
	updated_at = EXCLUDED.updated_at,
	cached_at = EXCLUDED.cached_at`

func (p *PostgresStore) PutIssue(ctx context.Context, issue *models.Issue) error {
	labels, err := encodeLabels(issue.Labels)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, pgUpsertIssueSQL,
		issue.RepoName, issue.IssueID, issue.Number, issue.Title, issue.Body,
		issue.URL, issue.State, labels,
		issue.CreatedAt.UTC(), issue.UpdatedAt.UTC(), issue.CachedAt.UTC())
	return err
}

func (p *PostgresStore) PutIssues(ctx context.Context, issues []models.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, pgUpsertIssueSQL)
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

func (p *PostgresStore) GetIssue(ctx context.Context, repoName string, issueID int64) (*models.Issue, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT repo_name, issue_id, number, title, body, url, state, labels, created_at, updated_at, cached_at
		 FROM issues WHERE repo_name = $1 AND issue_id = $2`, repoName, issueID)
	return scanIssue(row)
}

func (p *PostgresStore) ListIssues(ctx context.Context, repoName string) ([]models.Issue, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT repo_name, issue_id, number, title, body, url, state, labels, created_at, updated_at, cached_at
		 FROM issues WHERE repo_name = $1 ORDER BY issue_id`, repoName)
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

func (p *PostgresStore) GetScanRecord(ctx context.Context, repoName string) (*models.ScanRecord, error) {
	var rec models.ScanRecord
	err := p.db.QueryRowContext(ctx,
		`SELECT repo_name, last_scan_at, issue_count, skipped_count FROM scan_records WHERE repo_name = $1`,
		repoName).Scan(&rec.RepoName, &rec.LastScanAt, &rec.IssueCount, &rec.SkippedCount)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (p *PostgresStore) PutScanRecord(ctx context.Context, rec *models.ScanRecord) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO scan_records (repo_name, last_scan_at, issue_count, skipped_count)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (repo_name) DO UPDATE SET
			last_scan_at = EXCLUDED.last_scan_at,
			issue_count = EXCLUDED.issue_count,
			skipped_count = EXCLUDED.skipped_count`,
		rec.RepoName, rec.LastScanAt.UTC(), rec.IssueCount, rec.SkippedCount)
	return err
}
