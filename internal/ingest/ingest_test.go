package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/odvcencio/issuelens/internal/database"
	"github.com/odvcencio/issuelens/internal/upstream"
)

func setupStore(t *testing.T) database.Store {
	t.Helper()
	store, err := database.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	return store
}

// fakeSource serves scripted pages. failAt, when positive, fails the fetch at
// that page number with the given error.
type fakeSource struct {
	mu      sync.Mutex
	pages   [][]upstream.RawIssue
	failAt  int
	failErr error
	release chan struct{} // when set, ListIssues blocks until closed
	calls   int
}

func (f *fakeSource) ListIssues(ctx context.Context, repo, pageToken string) ([]upstream.RawIssue, string, error) {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	page := 0
	if pageToken != "" {
		fmt.Sscanf(pageToken, "%d", &page)
	}
	if f.failAt > 0 && page+1 >= f.failAt {
		return nil, "", f.failErr
	}
	if page >= len(f.pages) {
		return nil, "", nil
	}
	next := ""
	if page+1 < len(f.pages) {
		next = fmt.Sprintf("%d", page+1)
	}
	return f.pages[page], next, nil
}

func strPtr(s string) *string { return &s }

func rawIssue(id int64, title string) upstream.RawIssue {
	return upstream.RawIssue{
		ID:        id,
		Number:    int(id),
		Title:     title,
		Body:      strPtr("body of " + title),
		HTMLURL:   fmt.Sprintf("https://github.com/acme/widgets/issues/%d", id),
		State:     "open",
		CreatedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC),
	}
}

func TestScanCachesAllPages(t *testing.T) {
	store := setupStore(t)
	source := &fakeSource{pages: [][]upstream.RawIssue{
		{rawIssue(1, "first"), rawIssue(2, "second")},
		{rawIssue(3, "third")},
	}}
	coord := NewCoordinator(store, source, Options{WriteBatchSize: 2})

	rec, err := coord.Scan(context.Background(), "acme/widgets")
	if err != nil {
		t.Fatal(err)
	}
	if rec.IssueCount != 3 || rec.SkippedCount != 0 {
		t.Fatalf("record = %+v, want 3 cached 0 skipped", rec)
	}

	issues, err := store.ListIssues(context.Background(), "acme/widgets")
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 3 {
		t.Fatalf("cached %d issues, want 3", len(issues))
	}
	if issues[0].Body != "body of first" || issues[0].URL == "" {
		t.Fatalf("normalization lost fields: %+v", issues[0])
	}
}

func TestScanIsIdempotent(t *testing.T) {
	store := setupStore(t)
	source := &fakeSource{pages: [][]upstream.RawIssue{
		{rawIssue(1, "first"), rawIssue(2, "second")},
	}}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	coord := NewCoordinator(store, source, Options{Now: func() time.Time { return current }})

	first, err := coord.Scan(context.Background(), "acme/widgets")
	if err != nil {
		t.Fatal(err)
	}
	before, err := store.ListIssues(context.Background(), "acme/widgets")
	if err != nil {
		t.Fatal(err)
	}

	current = base.Add(time.Hour)
	second, err := coord.Scan(context.Background(), "acme/widgets")
	if err != nil {
		t.Fatal(err)
	}
	after, err := store.ListIssues(context.Background(), "acme/widgets")
	if err != nil {
		t.Fatal(err)
	}

	if first.IssueCount != second.IssueCount {
		t.Fatalf("issue counts differ across identical scans: %d vs %d", first.IssueCount, second.IssueCount)
	}
	if len(before) != len(after) {
		t.Fatalf("re-scan changed cardinality: %d vs %d", len(before), len(after))
	}
	for i := range before {
		if before[i].IssueID != after[i].IssueID || before[i].Title != after[i].Title || before[i].Body != after[i].Body {
			t.Fatalf("re-scan changed issue fields: %+v vs %+v", before[i], after[i])
		}
		if !after[i].CachedAt.After(before[i].CachedAt) {
			t.Fatalf("cached_at not refreshed: %v vs %v", before[i].CachedAt, after[i].CachedAt)
		}
	}
}

func TestScanSkipsMalformedRecords(t *testing.T) {
	bad := rawIssue(0, "no identity")
	store := setupStore(t)
	source := &fakeSource{pages: [][]upstream.RawIssue{
		{rawIssue(1, "good"), bad, rawIssue(2, "also good")},
	}}
	coord := NewCoordinator(store, source, Options{})

	rec, err := coord.Scan(context.Background(), "acme/widgets")
	if err != nil {
		t.Fatalf("malformed records must not fail the scan: %v", err)
	}
	if rec.IssueCount != 2 || rec.SkippedCount != 1 {
		t.Fatalf("record = %+v, want 2 cached 1 skipped", rec)
	}
}

func TestScanDropsPullRequests(t *testing.T) {
	pr := rawIssue(9, "a pull request")
	pr.PullRequest = &struct{}{}
	store := setupStore(t)
	source := &fakeSource{pages: [][]upstream.RawIssue{{rawIssue(1, "issue"), pr}}}
	coord := NewCoordinator(store, source, Options{})

	rec, err := coord.Scan(context.Background(), "acme/widgets")
	if err != nil {
		t.Fatal(err)
	}
	if rec.IssueCount != 1 || rec.SkippedCount != 0 {
		t.Fatalf("record = %+v, want PR dropped silently", rec)
	}
}

func TestScanUpstreamFailureLeavesNoScanRecord(t *testing.T) {
	store := setupStore(t)
	source := &fakeSource{
		pages:   [][]upstream.RawIssue{{rawIssue(1, "first")}, {rawIssue(2, "second")}},
		failAt:  2,
		failErr: fmt.Errorf("%w: 503", upstream.ErrUpstreamUnavailable),
	}
	coord := NewCoordinator(store, source, Options{WriteBatchSize: 1})

	_, err := coord.Scan(context.Background(), "acme/widgets")
	if !errors.Is(err, upstream.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want ErrUpstreamUnavailable", err)
	}

	if _, err := store.GetScanRecord(context.Background(), "acme/widgets"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("failed scan must not write a scan record, got err %v", err)
	}
	// Issues upserted before the failure stay cached for the next scan to correct.
	issues, err := store.ListIssues(context.Background(), "acme/widgets")
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 1 {
		t.Fatalf("cached %d issues before failure, want 1", len(issues))
	}
}

func TestScanFailurePreservesPriorScanRecord(t *testing.T) {
	store := setupStore(t)
	good := &fakeSource{pages: [][]upstream.RawIssue{{rawIssue(1, "first")}}}
	coord := NewCoordinator(store, good, Options{})

	first, err := coord.Scan(context.Background(), "acme/widgets")
	if err != nil {
		t.Fatal(err)
	}

	bad := &fakeSource{failAt: 1, failErr: fmt.Errorf("%w: 502", upstream.ErrUpstreamUnavailable)}
	coordBad := NewCoordinator(store, bad, Options{})
	if _, err := coordBad.Scan(context.Background(), "acme/widgets"); err == nil {
		t.Fatal("expected failure")
	}

	rec, err := store.GetScanRecord(context.Background(), "acme/widgets")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.LastScanAt.Equal(first.LastScanAt) {
		t.Fatalf("prior scan record overwritten: %v vs %v", rec.LastScanAt, first.LastScanAt)
	}
}

func TestScanRejectsConcurrentScanOfSameRepo(t *testing.T) {
	store := setupStore(t)
	release := make(chan struct{})
	source := &fakeSource{
		pages:   [][]upstream.RawIssue{{rawIssue(1, "first")}},
		release: release,
	}
	coord := NewCoordinator(store, source, Options{})

	errs := make(chan error, 1)
	go func() {
		_, err := coord.Scan(context.Background(), "acme/widgets")
		errs <- err
	}()

	// Wait for the first scan to hold the lock inside the blocked fetch.
	deadline := time.After(2 * time.Second)
	for {
		coord.locks.mu.Lock()
		_, held := coord.locks.active["acme/widgets"]
		coord.locks.mu.Unlock()
		if held {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first scan never acquired the repo lock")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if _, err := coord.Scan(context.Background(), "acme/widgets"); !errors.Is(err, ErrScanInProgress) {
		t.Fatalf("err = %v, want ErrScanInProgress", err)
	}

	// A different repository is not blocked by the keyed lock.
	other := NewCoordinator(store, &fakeSource{pages: [][]upstream.RawIssue{{rawIssue(7, "x")}}}, Options{})
	if _, err := other.Scan(context.Background(), "acme/gadgets"); err != nil {
		t.Fatalf("unrelated repo scan blocked: %v", err)
	}

	close(release)
	if err := <-errs; err != nil {
		t.Fatalf("first scan failed: %v", err)
	}

	// Lock released, a new scan is accepted again.
	if _, err := coord.Scan(context.Background(), "acme/widgets"); err != nil {
		t.Fatalf("scan after release failed: %v", err)
	}
}

func TestScanValidatesRepoName(t *testing.T) {
	coord := NewCoordinator(setupStore(t), &fakeSource{}, Options{})
	_, err := coord.Scan(context.Background(), "notarepo")
	if !errors.Is(err, upstream.ErrInvalidRepository) {
		t.Fatalf("err = %v, want ErrInvalidRepository", err)
	}
}
