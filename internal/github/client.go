// Package github fetches repository issues from the GitHub REST API.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mschirtzinger/issuesync/internal/reconcile"
	"github.com/mschirtzinger/issuesync/internal/types"
)

const (
	// DefaultBaseURL is the public GitHub API.
	DefaultBaseURL = "https://api.github.com"

	// DefaultPageSize is the largest page GitHub serves for issues.
	DefaultPageSize = 100

	// maxPages guards against a Link header that never ends.
	maxPages = 10000
)

// HTTPClient interface for HTTP operations (allows mocking in tests).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Token   string

	// Owner is used for repositories given without an "owner/" prefix.
	Owner string

	PageSize int

	// Since restricts the listing to issues updated at or after this time.
	Since *time.Time

	// Timeout bounds each request; zero means no per-request bound.
	Timeout time.Duration

	Retry  reconcile.RetryPolicy
	Logger *log.Logger
}

// Client implements reconcile.IssueSource for GitHub.
type Client struct {
	baseURL    string
	token      string
	owner      string
	pageSize   int
	since      *time.Time
	timeout    time.Duration
	retry      reconcile.RetryPolicy
	httpClient HTTPClient
	logger     *log.Logger
}

var _ reconcile.IssueSource = (*Client)(nil)

// NewClient creates a GitHub client. A nil httpClient uses a client with
// config.Timeout.
func NewClient(config Config, httpClient HTTPClient) *Client {
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	pageSize := config.PageSize
	if pageSize <= 0 || pageSize > DefaultPageSize {
		pageSize = DefaultPageSize
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[github] ", log.LstdFlags)
	}

	return &Client{
		baseURL:    baseURL,
		token:      config.Token,
		owner:      config.Owner,
		pageSize:   pageSize,
		since:      config.Since,
		timeout:    config.Timeout,
		retry:      config.Retry,
		httpClient: httpClient,
		logger:     logger,
	}
}

// SplitRepository resolves "name" or "owner/name" against a default owner.
func SplitRepository(repository, defaultOwner string) (owner, name string, err error) {
	repository = strings.Trim(strings.TrimSpace(repository), "/")
	parts := strings.Split(repository, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		if defaultOwner == "" {
			return "", "", fmt.Errorf("repository %q has no owner and no default owner is configured", repository)
		}
		return defaultOwner, parts[0], nil
	case len(parts) == 2 && parts[0] != "" && parts[1] != "":
		return parts[0], parts[1], nil
	}
	return "", "", fmt.Errorf("invalid repository %q: want name or owner/name", repository)
}

// FetchIssues returns every issue and pull request of repository, all states,
// following pagination to the end.
func (c *Client) FetchIssues(ctx context.Context, repository string) ([]types.Issue, error) {
	owner, name, err := SplitRepository(repository, c.owner)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("state", "all")
	query.Set("per_page", strconv.Itoa(c.pageSize))
	if c.since != nil {
		query.Set("since", c.since.UTC().Format(time.RFC3339))
	}
	next := fmt.Sprintf("%s/repos/%s/%s/issues?%s", c.baseURL, url.PathEscape(owner), url.PathEscape(name), query.Encode())

	var issues []types.Issue
	for page := 1; next != ""; page++ {
		if page > maxPages {
			return nil, fmt.Errorf("%w: %s/%s: pagination exceeded %d pages", reconcile.ErrSourceUnavailable, owner, name, maxPages)
		}

		var batch []githubIssue
		var link string
		err := c.retry.Do(ctx, func() error {
			var err error
			link, err = c.doRequest(ctx, next, &batch)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list issues for %s/%s (page %d): %w",
				owner, name, page, reconcile.WrapRemote(reconcile.ErrSourceUnavailable, err))
		}

		for i := range batch {
			issues = append(issues, batch[i].toIssue(name))
		}
		next = nextPageURL(link)
	}

	c.logger.Printf("Fetched %d issues from %s/%s", len(issues), owner, name)
	return issues, nil
}

// doRequest performs a GET and decodes the JSON body into result.
// It returns the response's Link header.
func (c *Client) doRequest(ctx context.Context, reqURL string, result interface{}) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	if c.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", newAPIError(resp, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	return resp.Header.Get("Link"), nil
}

// nextPageURL extracts the rel="next" target of an RFC 5988 Link header.
func nextPageURL(link string) string {
	for _, part := range strings.Split(link, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		target := strings.TrimSpace(segments[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, param := range segments[1:] {
			param = strings.TrimSpace(param)
			if param == `rel="next"` || param == "rel=next" {
				return target[1 : len(target)-1]
			}
		}
	}
	return ""
}

// APIError is a non-200 response from GitHub.
type APIError struct {
	StatusCode int
	Message    string
	RateLimit  bool
}

func newAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
		apiErr.Message = payload.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}

	if resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0" {
		apiErr.RateLimit = true
	}
	return apiErr
}

func (e *APIError) Error() string {
	return fmt.Sprintf("GitHub API returned status %d: %s", e.StatusCode, e.Message)
}

// Transient reports whether the request may succeed if repeated.
func (e *APIError) Transient() bool {
	return e.RateLimit || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
