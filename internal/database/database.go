package database

import (
	"context"

	"github.com/odvcencio/issuelens/internal/models"
)

// Store defines the issue cache interface. Implemented by SQLite and PostgreSQL backends.
// The ingestion layer is the only writer; analysis only reads.
type Store interface {
	Close() error
	Migrate(ctx context.Context) error

	// Issues
	PutIssue(ctx context.Context, issue *models.Issue) error
	PutIssues(ctx context.Context, issues []models.Issue) error
	GetIssue(ctx context.Context, repoName string, issueID int64) (*models.Issue, error)
	ListIssues(ctx context.Context, repoName string) ([]models.Issue, error)

	// Scan records
	GetScanRecord(ctx context.Context, repoName string) (*models.ScanRecord, error)
	PutScanRecord(ctx context.Context, rec *models.ScanRecord) error
}
