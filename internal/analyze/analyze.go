// Package analyze drives the chunked analysis pipeline: read cached issues,
// batch them under the context budget, run one LLM call per batch, then reduce
// the partial answers into one.
package analyze

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/issuelens/internal/database"
	"github.com/odvcencio/issuelens/internal/llm"
	"github.com/odvcencio/issuelens/internal/models"
)

// ErrRepositoryNotScanned means no scan has ever completed for the repository.
// Distinct from a completed scan that found zero issues.
var ErrRepositoryNotScanned = errors.New("repository not scanned")

const (
	defaultBatchTokens = 4000
	// maxConcurrentBatches bounds the per-batch LLM fan-out within one analysis.
	maxConcurrentBatches = 4
)

type Coordinator struct {
	store       database.Store
	llm         llm.Client
	batchTokens int
	logger      *slog.Logger
	metrics     *analysisMetrics
}

type Options struct {
	BatchTokens int
	Logger      *slog.Logger
}

func NewCoordinator(store database.Store, client llm.Client, opts Options) *Coordinator {
	batchTokens := opts.BatchTokens
	if batchTokens <= 0 {
		batchTokens = defaultBatchTokens
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:       store,
		llm:         client,
		batchTokens: batchTokens,
		logger:      logger,
		metrics:     getDefaultAnalysisMetrics(),
	}
}

// Analyze answers req.Prompt over the cached issues for req.RepoName. Batches
// run concurrently; the reduce step is a strict barrier. Any terminal LLM
// failure fails the whole analysis and partial answers are discarded, never
// surfaced.
func (c *Coordinator) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error) {
	repo := strings.TrimSpace(req.RepoName)
	prompt := strings.TrimSpace(req.Prompt)
	if repo == "" {
		return nil, fmt.Errorf("repo is required")
	}
	if prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	if _, err := c.store.GetScanRecord(ctx, repo); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRepositoryNotScanned, repo)
		}
		return nil, fmt.Errorf("read scan record: %w", err)
	}

	issues, err := c.store.ListIssues(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("read cached issues: %w", err)
	}

	result := &models.AnalysisResult{
		RepoName:         repo,
		Prompt:           prompt,
		IssuesConsidered: len(issues),
	}
	if len(issues) == 0 {
		// Scanned but empty is a valid outcome, not an error.
		c.metrics.analysesTotal.WithLabelValues("empty").Inc()
		return result, nil
	}

	budget := c.batchTokens
	if req.MaxBatchTokens > 0 {
		budget = req.MaxBatchTokens
	}
	batches := Split(issues, budget, EstimateTokens)
	result.BatchesUsed = len(batches)

	logger := c.logger.With("repo", repo, "issues", len(issues), "batches", len(batches))
	logger.Info("analysis started")

	partials := make([]string, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentBatches)
	for i := range batches {
		g.Go(func() error {
			answer, err := c.llm.Complete(gctx, prompt, formatBatch(batches[i]))
			if err != nil {
				return fmt.Errorf("batch %d of %d: %w", i+1, len(batches), err)
			}
			partials[i] = answer
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.metrics.analysesTotal.WithLabelValues("failed").Inc()
		logger.Error("analysis failed", "error", err)
		return nil, err
	}

	// Single batch: its answer is final, no synthesis round-trip.
	answer := partials[0]
	if len(partials) > 1 {
		answer, err = c.llm.Complete(ctx, synthesisPrompt(prompt, partials), "")
		if err != nil {
			c.metrics.analysesTotal.WithLabelValues("failed").Inc()
			logger.Error("synthesis failed", "error", err)
			return nil, fmt.Errorf("synthesize %d partial answers: %w", len(partials), err)
		}
	}

	result.Answer = answer
	c.metrics.analysesTotal.WithLabelValues("completed").Inc()
	c.metrics.batchesPerAnalysis.Observe(float64(len(batches)))
	logger.Info("analysis completed")
	return result, nil
}
