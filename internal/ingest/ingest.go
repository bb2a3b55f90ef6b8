// Package ingest drives the issue cache pipeline: fetch pages from upstream,
// normalize, upsert into the store, then mark the scan complete.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odvcencio/issuelens/internal/database"
	"github.com/odvcencio/issuelens/internal/models"
	"github.com/odvcencio/issuelens/internal/upstream"
)

// ErrScanInProgress rejects a scan for a repository that already has one in
// flight. Concurrent scans of distinct repositories are fine.
var ErrScanInProgress = errors.New("scan already in progress")

const defaultWriteBatchSize = 25

type Coordinator struct {
	store          database.Store
	source         upstream.Lister
	writeBatchSize int
	logger         *slog.Logger
	locks          *repoLocks
	metrics        *scanMetrics
	now            func() time.Time
}

type Options struct {
	WriteBatchSize int
	Logger         *slog.Logger
	Now            func() time.Time // test hook
}

func NewCoordinator(store database.Store, source upstream.Lister, opts Options) *Coordinator {
	batchSize := opts.WriteBatchSize
	if batchSize <= 0 {
		batchSize = defaultWriteBatchSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		store:          store,
		source:         source,
		writeBatchSize: batchSize,
		logger:         logger,
		locks:          newRepoLocks(),
		metrics:        getDefaultScanMetrics(),
		now:            now,
	}
}

// Scan fetches every open issue for repo and upserts it into the store. The
// ScanRecord is written only after the full fetch succeeds, so a mid-stream
// upstream failure never marks a prior complete scan stale; issues already
// upserted in the failed run stay cached and are corrected by a later re-scan.
func (c *Coordinator) Scan(ctx context.Context, repo string) (*models.ScanRecord, error) {
	if err := upstream.ValidateRepoName(repo); err != nil {
		return nil, err
	}
	if !c.locks.tryAcquire(repo) {
		return nil, fmt.Errorf("%w: %s", ErrScanInProgress, repo)
	}
	defer c.locks.release(repo)

	scanID := uuid.NewString()
	logger := c.logger.With("repo", repo, "scan_id", scanID)
	logger.Info("scan started")
	start := c.now()

	written := 0
	skipped := 0
	batch := make([]models.Issue, 0, c.writeBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.store.PutIssues(ctx, batch); err != nil {
			return fmt.Errorf("cache issues: %w", err)
		}
		written += len(batch)
		batch = batch[:0]
		return nil
	}

	pager := upstream.NewPager(c.source, repo)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, ok, err := pager.NextPage(ctx)
		if err != nil {
			c.metrics.scansTotal.WithLabelValues("failed").Inc()
			logger.Error("scan failed mid-fetch", "error", err, "cached_so_far", written)
			return nil, err
		}
		if !ok {
			break
		}
		for i := range page {
			issue, err := c.normalize(repo, &page[i])
			if err != nil {
				skipped++
				logger.Warn("skipping malformed record", "error", err)
				continue
			}
			if issue == nil {
				// Pull requests come back from the issues endpoint too.
				continue
			}
			batch = append(batch, *issue)
			if len(batch) >= c.writeBatchSize {
				if err := flush(); err != nil {
					c.metrics.scansTotal.WithLabelValues("failed").Inc()
					return nil, err
				}
			}
		}
	}
	if err := flush(); err != nil {
		c.metrics.scansTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	rec := &models.ScanRecord{
		RepoName:     repo,
		LastScanAt:   c.now().UTC(),
		IssueCount:   written,
		SkippedCount: skipped,
	}
	if err := c.store.PutScanRecord(ctx, rec); err != nil {
		c.metrics.scansTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("record scan: %w", err)
	}

	c.metrics.scansTotal.WithLabelValues("completed").Inc()
	c.metrics.issuesCached.Add(float64(written))
	c.metrics.scanDuration.Observe(c.now().Sub(start).Seconds())
	logger.Info("scan completed", "issues", written, "skipped", skipped)
	return rec, nil
}

// normalize turns a raw upstream record into a cache Issue. Missing text
// fields default to empty strings; a missing identity rejects the record.
// Pull requests are dropped silently (nil, nil).
func (c *Coordinator) normalize(repo string, raw *upstream.RawIssue) (*models.Issue, error) {
	if raw.PullRequest != nil {
		return nil, nil
	}
	if raw.ID <= 0 {
		return nil, fmt.Errorf("record has no issue id")
	}
	body := ""
	if raw.Body != nil {
		body = *raw.Body
	}
	labels := make([]string, 0, len(raw.Labels))
	for _, l := range raw.Labels {
		if name := strings.TrimSpace(l.Name); name != "" {
			labels = append(labels, name)
		}
	}
	return &models.Issue{
		RepoName:  repo,
		IssueID:   raw.ID,
		Number:    raw.Number,
		Title:     raw.Title,
		Body:      body,
		URL:       raw.HTMLURL,
		State:     raw.State,
		Labels:    labels,
		CreatedAt: raw.CreatedAt,
		UpdatedAt: raw.UpdatedAt,
		CachedAt:  c.now().UTC(),
	}, nil
}
