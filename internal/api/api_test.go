package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/odvcencio/issuelens/internal/analyze"
	"github.com/odvcencio/issuelens/internal/config"
	"github.com/odvcencio/issuelens/internal/database"
	"github.com/odvcencio/issuelens/internal/ingest"
	"github.com/odvcencio/issuelens/internal/llm"
	"github.com/odvcencio/issuelens/internal/retry"
	"github.com/odvcencio/issuelens/internal/upstream"
)

type testEnv struct {
	server   *Server
	github   *githubFake
	llmCalls *atomic.Int32
}

// githubFake serves a fixed set of issues for acme/widgets and 404s otherwise.
type githubFake struct {
	issues []map[string]any
	status int // non-zero forces this status on every response
}

func (g *githubFake) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.status != 0 {
			w.WriteHeader(g.status)
			return
		}
		if r.URL.Path != "/repos/acme/widgets/issues" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.URL.Query().Get("page") == "" || r.URL.Query().Get("page") == "1" {
			json.NewEncoder(w).Encode(g.issues)
			return
		}
		json.NewEncoder(w).Encode([]any{})
	})
}

func ghIssue(id int) map[string]any {
	return map[string]any{
		"id":         id,
		"number":     id,
		"title":      fmt.Sprintf("bug %d", id),
		"body":       "a body",
		"html_url":   fmt.Sprintf("https://github.com/acme/widgets/issues/%d", id),
		"state":      "open",
		"created_at": "2026-02-01T00:00:00Z",
		"updated_at": "2026-02-02T00:00:00Z",
	}
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := database.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}

	gh := &githubFake{issues: []map[string]any{ghIssue(1), ghIssue(2), ghIssue(3)}}
	ghSrv := httptest.NewServer(gh.handler())
	t.Cleanup(ghSrv.Close)

	var llmCalls atomic.Int32
	llmSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		llmCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "mostly UI bugs"}},
			},
		})
	}))
	t.Cleanup(llmSrv.Close)

	source := upstream.NewClient(ghSrv.URL, "test-token", upstream.WithRetryPolicy(fastPolicy()))
	llmClient, err := llm.New(config.LLMConfig{
		Provider:        "openai",
		Model:           "test-model",
		BaseURL:         llmSrv.URL,
		APIKey:          "k",
		MaxOutputTokens: 100,
	})
	if err != nil {
		t.Fatal(err)
	}

	ingestSvc := ingest.NewCoordinator(store, source, ingest.Options{})
	analyzeSvc := analyze.NewCoordinator(store, llmClient, analyze.Options{BatchTokens: 100000})

	return &testEnv{
		server:   NewServer(store, ingestSvc, analyzeSvc),
		github:   gh,
		llmCalls: &llmCalls,
	}
}

func (e *testEnv) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestScanThenAnalyze(t *testing.T) {
	env := newTestEnv(t)

	rec := env.post(t, "/scan", map[string]string{"repo": "acme/widgets"})
	if rec.Code != http.StatusOK {
		t.Fatalf("scan status = %d body %s", rec.Code, rec.Body.String())
	}
	scan := decodeBody[scanResponse](t, rec)
	if scan.IssuesCached != 3 || scan.Repo != "acme/widgets" {
		t.Fatalf("scan response = %+v", scan)
	}

	rec = env.post(t, "/analyze", map[string]string{
		"repo": "acme/widgets", "prompt": "List open bugs",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("analyze status = %d body %s", rec.Code, rec.Body.String())
	}
	result := decodeBody[struct {
		Answer           string `json:"answer"`
		IssuesConsidered int    `json:"issues_considered"`
		BatchesUsed      int    `json:"batches_used"`
	}](t, rec)
	if result.IssuesConsidered != 3 || result.BatchesUsed != 1 {
		t.Fatalf("result = %+v", result)
	}
	if result.Answer != "mostly UI bugs" {
		t.Fatalf("answer = %q", result.Answer)
	}
	if env.llmCalls.Load() != 1 {
		t.Fatalf("LLM calls = %d, want 1 for a single batch", env.llmCalls.Load())
	}
}

func TestAnalyzeBeforeScanIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.post(t, "/analyze", map[string]string{
		"repo": "acme/widgets", "prompt": "anything",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for never-scanned repo", rec.Code)
	}
}

func TestScanValidation(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.post(t, "/scan", map[string]string{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing repo status = %d", rec.Code)
	}
	if rec := env.post(t, "/scan", map[string]string{"repo": "notaslash"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed repo status = %d", rec.Code)
	}
}

func TestScanUpstreamDownIsBadGateway(t *testing.T) {
	env := newTestEnv(t)
	env.github.status = http.StatusServiceUnavailable

	rec := env.post(t, "/scan", map[string]string{"repo": "acme/widgets"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestScanUnknownRepoIsBadRequest(t *testing.T) {
	env := newTestEnv(t)
	rec := env.post(t, "/scan", map[string]string{"repo": "acme/unknown"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown repository", rec.Code)
	}
}

func TestAnalyzeValidation(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.post(t, "/analyze", map[string]string{"repo": "acme/widgets"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing prompt status = %d", rec.Code)
	}
}

func TestGetScanRecord(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/scan/acme/widgets", nil)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unscanned status = %d, want 404", rec.Code)
	}

	if rec := env.post(t, "/scan", map[string]string{"repo": "acme/widgets"}); rec.Code != http.StatusOK {
		t.Fatalf("scan failed: %s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/scan/acme/widgets", nil)
	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	record := decodeBody[struct {
		IssueCount int `json:"issue_count"`
	}](t, rec)
	if record.IssueCount != 3 {
		t.Fatalf("issue_count = %d", record.IssueCount)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "fixed-id" {
		t.Fatalf("request id = %q", got)
	}
}
