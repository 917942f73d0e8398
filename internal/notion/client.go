// Package notion reads and writes issue records in a Notion database.
package notion

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/mschirtzinger/issuesync/internal/reconcile"
	"github.com/mschirtzinger/issuesync/internal/types"
)

const (
	// DefaultBaseURL is the public Notion API.
	DefaultBaseURL = "https://api.notion.com"

	// APIVersion is sent as the Notion-Version header.
	APIVersion = "2022-06-28"

	// queryPageSize is the largest page the database query endpoint serves.
	queryPageSize = 100
)

// HTTPClient interface for HTTP operations (allows mocking in tests).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Token      string
	DatabaseID string

	// ExtendedProperties writes Milestone, Status and Pull Request. When set,
	// a missing value clears the property instead of leaving it untouched.
	ExtendedProperties bool

	// Timeout bounds each request; zero means no per-request bound.
	Timeout time.Duration

	// Retry applies to database queries. Writes are retried by the caller.
	Retry  reconcile.RetryPolicy
	Logger *log.Logger
}

// Client implements reconcile.DestinationStore for a Notion database.
type Client struct {
	baseURL    string
	token      string
	databaseID string
	extended   bool
	timeout    time.Duration
	retry      reconcile.RetryPolicy
	httpClient HTTPClient
	logger     *log.Logger

	// blockTypes remembers the type of listed blocks so text updates address
	// the right payload key.
	mu         sync.Mutex
	blockTypes map[string]string
}

var _ reconcile.DestinationStore = (*Client)(nil)

// NewClient creates a Notion client.
func NewClient(config Config, httpClient HTTPClient) *Client {
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[notion] ", log.LstdFlags)
	}

	return &Client{
		baseURL:    baseURL,
		token:      config.Token,
		databaseID: config.DatabaseID,
		extended:   config.ExtendedProperties,
		timeout:    config.Timeout,
		retry:      config.Retry,
		httpClient: httpClient,
		logger:     logger,
		blockTypes: make(map[string]string),
	}
}

// ListDestinationRecords returns one page of the database. Records without
// an Issue URL are returned with an empty IssueURL.
func (c *Client) ListDestinationRecords(ctx context.Context, cursor string) (*reconcile.RecordPage, error) {
	payload := fmt.Sprintf(`{"page_size":%d}`, queryPageSize)
	if cursor != "" {
		var err error
		if payload, err = sjson.Set(payload, "start_cursor", cursor); err != nil {
			return nil, fmt.Errorf("failed to build query: %w", err)
		}
	}

	var body []byte
	err := c.retry.Do(ctx, func() error {
		var err error
		body, err = c.doRequest(ctx, http.MethodPost, "/v1/databases/"+url.PathEscape(c.databaseID)+"/query", []byte(payload))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query database %s: %w", c.databaseID, reconcile.WrapRemote(reconcile.ErrSourceUnavailable, err))
	}

	result := gjson.ParseBytes(body)
	page := &reconcile.RecordPage{}
	result.Get("results").ForEach(func(_, record gjson.Result) bool {
		page.Records = append(page.Records, types.DestinationRecord{
			RecordID: record.Get("id").String(),
			IssueURL: record.Get(propertyPath(types.PropIssueURL) + ".url").String(),
		})
		return true
	})
	if result.Get("has_more").Bool() {
		page.NextCursor = result.Get("next_cursor").String()
	}
	return page, nil
}

// CreateRecord creates a page in the database with one paragraph block
// holding initialBody.
func (c *Client) CreateRecord(ctx context.Context, props types.Properties, initialBody string) (string, error) {
	properties, err := c.propertiesJSON(props)
	if err != nil {
		return "", fmt.Errorf("%w: %w", reconcile.ErrCreateFailed, err)
	}

	payload := `{}`
	payload, err = sjson.Set(payload, "parent.database_id", c.databaseID)
	if err == nil {
		payload, err = sjson.SetRaw(payload, "properties", properties)
	}
	if err == nil {
		payload, err = sjson.Set(payload, "children", []interface{}{paragraphBlock(initialBody)})
	}
	if err != nil {
		return "", fmt.Errorf("%w: failed to build page: %w", reconcile.ErrCreateFailed, err)
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/v1/pages", []byte(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create page for %s: %w", props.IssueURL, reconcile.WrapRemote(reconcile.ErrCreateFailed, err))
	}

	id := gjson.GetBytes(body, "id").String()
	if id == "" {
		return "", fmt.Errorf("%w: response for %s carries no page id", reconcile.ErrCreateFailed, props.IssueURL)
	}
	return id, nil
}

// UpdateRecordProperties overwrites the page's properties. Page content is
// not touched.
func (c *Client) UpdateRecordProperties(ctx context.Context, recordID string, props types.Properties) error {
	properties, err := c.propertiesJSON(props)
	if err != nil {
		return fmt.Errorf("%w: %w", reconcile.ErrUpdateFailed, err)
	}
	payload, err := sjson.SetRaw(`{}`, "properties", properties)
	if err != nil {
		return fmt.Errorf("%w: failed to build update: %w", reconcile.ErrUpdateFailed, err)
	}

	if _, err := c.doRequest(ctx, http.MethodPatch, "/v1/pages/"+url.PathEscape(recordID), []byte(payload)); err != nil {
		return fmt.Errorf("failed to update page %s: %w", recordID, reconcile.WrapRemote(reconcile.ErrUpdateFailed, err))
	}
	return nil
}

// ListRecordBlocks returns the first page of the record's child blocks,
// in document order.
func (c *Client) ListRecordBlocks(ctx context.Context, recordID string, pageSize int) ([]types.Block, error) {
	path := "/v1/blocks/" + url.PathEscape(recordID) + "/children"
	if pageSize > 0 {
		path += "?page_size=" + strconv.Itoa(pageSize)
	}

	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocks of %s: %w", recordID, reconcile.WrapRemote(reconcile.ErrFetchFailed, err))
	}

	var blocks []types.Block
	c.mu.Lock()
	defer c.mu.Unlock()
	gjson.GetBytes(body, "results").ForEach(func(_, block gjson.Result) bool {
		b := types.Block{ID: block.Get("id").String(), Type: block.Get("type").String()}
		blocks = append(blocks, b)
		c.blockTypes[b.ID] = b.Type
		return true
	})
	return blocks, nil
}

// UpdateBlockText replaces the rich text of a block. Blocks not seen by
// ListRecordBlocks are addressed as paragraphs.
func (c *Client) UpdateBlockText(ctx context.Context, blockID, text string) error {
	blockType := c.textBlockType(blockID)
	payload, err := sjson.Set(`{}`, blockType+".rich_text", richText(text))
	if err != nil {
		return fmt.Errorf("%w: failed to build block update: %w", reconcile.ErrUpdateFailed, err)
	}

	if _, err := c.doRequest(ctx, http.MethodPatch, "/v1/blocks/"+url.PathEscape(blockID), []byte(payload)); err != nil {
		return fmt.Errorf("failed to update block %s: %w", blockID, reconcile.WrapRemote(reconcile.ErrUpdateFailed, err))
	}
	return nil
}

func (c *Client) textBlockType(blockID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.blockTypes[blockID]
	if ok && textBlockTypes[t] {
		return t
	}
	if ok {
		c.logger.Printf("Block %s has type %q without rich text; writing as paragraph", blockID, t)
	}
	return "paragraph"
}

// textBlockTypes are the block types whose content is a rich_text array.
var textBlockTypes = map[string]bool{
	"paragraph":          true,
	"heading_1":          true,
	"heading_2":          true,
	"heading_3":          true,
	"bulleted_list_item": true,
	"numbered_list_item": true,
	"quote":              true,
	"to_do":              true,
	"toggle":             true,
	"callout":            true,
}

// doRequest sends a JSON request and returns the response body of a 2xx reply.
func (c *Client) doRequest(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	req.Header.Set("Notion-Version", APIVersion)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp.StatusCode, body)
	}
	return body, nil
}

// APIError is a non-2xx response from Notion.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	if gjson.ValidBytes(body) {
		apiErr.Code = gjson.GetBytes(body, "code").String()
		apiErr.Message = gjson.GetBytes(body, "message").String()
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("Notion API returned status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("Notion API returned status %d: %s", e.StatusCode, e.Message)
}

// Transient reports whether the request may succeed if repeated.
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusConflict ||
		e.StatusCode >= 500
}

// Ambiguous reports whether Notion may have applied the request despite the
// error status.
func (e *APIError) Ambiguous() bool {
	return e.StatusCode == http.StatusConflict || e.StatusCode == http.StatusGatewayTimeout
}
