// Package upstream fetches issue pages from the GitHub REST API. It never
// writes the cache; classification of upstream failures into the three error
// kinds callers dispatch on happens here.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/odvcencio/issuelens/internal/retry"
)

var (
	// ErrInvalidRepository means the repository identifier is malformed or unknown upstream.
	ErrInvalidRepository = errors.New("invalid repository")
	// ErrAuthRejected means the upstream credential was refused.
	ErrAuthRejected = errors.New("upstream auth rejected")
	// ErrUpstreamUnavailable covers rate limits, 5xx responses and transport
	// failures after per-page retries are exhausted.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

const (
	defaultPageSize   = 100
	requestTimeout    = 10 * time.Second
	acceptHeader      = "application/vnd.github.v3+json"
	userAgent         = "issuelens"
	githubAPIAuthType = "token"
)

// RawIssue carries the upstream fields the cache consumes. Body is a pointer
// because GitHub serializes empty bodies as null.
type RawIssue struct {
	ID          int64     `json:"id"`
	Number      int       `json:"number"`
	Title       string    `json:"title"`
	Body        *string   `json:"body"`
	HTMLURL     string    `json:"html_url"`
	State       string    `json:"state"`
	Labels      []Label   `json:"labels"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	PullRequest *struct{} `json:"pull_request,omitempty"`
}

type Label struct {
	Name string `json:"name"`
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	pageSize   int
	policy     retry.Policy
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: requestTimeout},
		pageSize:   defaultPageSize,
		policy:     retry.DefaultPolicy(IsTransient),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.policy.Retryable = IsTransient
	return c
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}

// ValidateRepoName checks the "owner/name" shape before any network call.
func ValidateRepoName(repo string) error {
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("%w: %q is not owner/name", ErrInvalidRepository, repo)
	}
	return nil
}

// ListIssues fetches one page of open issues. An empty pageToken requests the
// first page; the returned token is empty once no pages remain. The page is
// retried internally on transient failures per the client's policy.
func (c *Client) ListIssues(ctx context.Context, repo, pageToken string) ([]RawIssue, string, error) {
	if err := ValidateRepoName(repo); err != nil {
		return nil, "", err
	}
	page := 1
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 1 {
			return nil, "", fmt.Errorf("invalid page token %q", pageToken)
		}
		page = n
	}

	issues, err := retry.Do(ctx, c.policy, func() ([]RawIssue, error) {
		return c.fetchPage(ctx, repo, page)
	})
	if err != nil {
		return nil, "", err
	}

	next := ""
	if len(issues) == c.pageSize {
		next = strconv.Itoa(page + 1)
	}
	return issues, next, nil
}

func (c *Client) fetchPage(ctx context.Context, repo string, page int) ([]RawIssue, error) {
	q := url.Values{}
	q.Set("state", "open")
	q.Set("per_page", strconv.Itoa(c.pageSize))
	q.Set("page", strconv.Itoa(page))
	q.Set("sort", "created")
	q.Set("direction", "desc")

	endpoint := fmt.Sprintf("%s/repos/%s/issues?%s", c.baseURL, repo, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", githubAPIAuthType+" "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, err
	}

	var issues []RawIssue
	if err := json.NewDecoder(resp.Body).Decode(&issues); err != nil {
		return nil, fmt.Errorf("%w: decode page %d: %v", ErrUpstreamUnavailable, page, err)
	}
	return issues, nil
}

func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: repository not found", ErrInvalidRepository)
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: status %d", ErrAuthRejected, resp.StatusCode)
	case resp.StatusCode == http.StatusForbidden:
		// 403 with an exhausted rate limit is transient; any other 403 is a
		// credential problem.
		if resp.Header.Get("X-RateLimit-Remaining") == "0" {
			return fmt.Errorf("%w: rate limited", ErrUpstreamUnavailable)
		}
		return fmt.Errorf("%w: status %d", ErrAuthRejected, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: rate limited", ErrUpstreamUnavailable)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("%w: unexpected status %d", ErrInvalidRepository, resp.StatusCode)
	}
}

// Lister is the source boundary: one page of raw issues per call, with an
// opaque continuation token. Implemented by Client.
type Lister interface {
	ListIssues(ctx context.Context, repo, pageToken string) ([]RawIssue, string, error)
}

// Pager walks the paginated issue listing lazily: one upstream page is held in
// memory at a time, and pages are fetched only as the caller drains them. The
// sequence is finite and not restartable.
type Pager struct {
	lister    Lister
	repo      string
	pageToken string
	done      bool
}

func NewPager(l Lister, repo string) *Pager {
	return &Pager{lister: l, repo: repo}
}

func (c *Client) Issues(repo string) *Pager {
	return NewPager(c, repo)
}

// NextPage returns the next page of issues. The second return is false once
// the sequence is exhausted. After an error the pager stays usable only for
// observing exhaustion; a new scan needs a new pager.
func (p *Pager) NextPage(ctx context.Context) ([]RawIssue, bool, error) {
	if p.done {
		return nil, false, nil
	}
	issues, next, err := p.lister.ListIssues(ctx, p.repo, p.pageToken)
	if err != nil {
		p.done = true
		return nil, false, err
	}
	p.pageToken = next
	if next == "" {
		p.done = true
	}
	if len(issues) == 0 && !p.done {
		p.done = true
	}
	return issues, len(issues) > 0, nil
}
