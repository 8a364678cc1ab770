package notion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	appLog "recurcal/internal/log"
	"recurcal/internal/metrics"
)

const (
	DefaultBaseURL = "https://api.notion.com"
	DefaultVersion = "2025-09-03"

	defaultRequestsPerSecond = 3
	defaultMaxRetries        = 4
	defaultBaseBackoff       = 500 * time.Millisecond

	// appendBatchSize is the API limit on children per append request.
	appendBatchSize = 100
)

// Options configures a Client. Zero values take defaults.
type Options struct {
	Token             string
	BaseURL           string
	Version           string
	RequestsPerSecond float64
	MaxRetries        int
	BaseBackoff       time.Duration
	HTTPClient        *http.Client
}

// Client talks to the Notion REST API. It paces requests, retries transient
// failures (429, 409 conflicts, 5xx, transport errors) with exponential
// backoff, and trips a circuit breaker on sustained failure. Callers see each
// call as eventually succeeding or permanently failing.
type Client struct {
	token       string
	baseURL     string
	version     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
	breaker     *gobreaker.CircuitBreaker[struct{}]
}

// NewClient creates a Client. The token is bound for the client's lifetime.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Version == "" {
		opts.Version = DefaultVersion
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = defaultRequestsPerSecond
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = defaultBaseBackoff
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	const cbName = "notion-api"
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Client errors (bad request, not found, ...) say nothing about
		// the health of the API.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return !apiErr.Retryable()
			}
			return errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			appLog.Info("notion circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &Client{
		token:       opts.Token,
		baseURL:     opts.BaseURL,
		version:     opts.Version,
		httpClient:  opts.HTTPClient,
		limiter:     rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		maxRetries:  opts.MaxRetries,
		baseBackoff: opts.BaseBackoff,
		breaker:     cb,
	}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// GetDatabase fetches a database container and its data source references.
func (c *Client) GetDatabase(ctx context.Context, databaseID string) (*Database, error) {
	var db Database
	if err := c.do(ctx, "get_database", http.MethodGet, "/v1/databases/"+url.PathEscape(databaseID), nil, &db); err != nil {
		return nil, err
	}
	return &db, nil
}

// GetDataSource fetches a data source including its property schema.
func (c *Client) GetDataSource(ctx context.Context, dataSourceID string) (*DataSource, error) {
	var ds DataSource
	if err := c.do(ctx, "get_data_source", http.MethodGet, "/v1/data_sources/"+url.PathEscape(dataSourceID), nil, &ds); err != nil {
		return nil, err
	}
	return &ds, nil
}

// UpdateDataSource adds or changes declared properties.
func (c *Client) UpdateDataSource(ctx context.Context, dataSourceID string, props map[string]PropertySchema) error {
	body := map[string]any{"properties": props}
	return c.do(ctx, "update_data_source", http.MethodPatch, "/v1/data_sources/"+url.PathEscape(dataSourceID), body, nil)
}

// QueryDataSource returns one page of query results.
func (c *Client) QueryDataSource(ctx context.Context, dataSourceID string, q Query) (*QueryResult, error) {
	var res QueryResult
	if err := c.do(ctx, "query_data_source", http.MethodPost, "/v1/data_sources/"+url.PathEscape(dataSourceID)+"/query", q, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) GetPage(ctx context.Context, pageID string) (*Page, error) {
	var p Page
	if err := c.do(ctx, "get_page", http.MethodGet, "/v1/pages/"+url.PathEscape(pageID), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePage creates a page under a data source. Children beyond the first
// batch are appended with follow-up requests.
func (c *Client) CreatePage(ctx context.Context, req CreatePageRequest) (*Page, error) {
	first, rest := splitBatch(req.Children)
	body := map[string]any{
		"parent":     Parent{Type: "data_source_id", DataSourceID: req.DataSourceID},
		"properties": req.Properties,
	}
	if req.Icon != nil {
		body["icon"] = req.Icon
	}
	if len(first) > 0 {
		body["children"] = first
	}

	var p Page
	if err := c.do(ctx, "create_page", http.MethodPost, "/v1/pages", body, &p); err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		if err := c.appendChildren(ctx, p.ID, rest); err != nil {
			return &p, fmt.Errorf("page %s created but appending content failed: %w", p.ID, err)
		}
	}
	return &p, nil
}

func (c *Client) UpdatePage(ctx context.Context, pageID string, req UpdatePageRequest) (*Page, error) {
	body := map[string]any{"properties": req.Properties}
	if req.Icon != nil {
		body["icon"] = req.Icon
	}
	var p Page
	if err := c.do(ctx, "update_page", http.MethodPatch, "/v1/pages/"+url.PathEscape(pageID), body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetBlockChildren lists all top-level children of a page or block.
func (c *Client) GetBlockChildren(ctx context.Context, blockID string) ([]Block, error) {
	var out []Block
	cursor := ""
	for {
		q := url.Values{}
		q.Set("page_size", "100")
		if cursor != "" {
			q.Set("start_cursor", cursor)
		}
		var res struct {
			Results    []Block `json:"results"`
			HasMore    bool    `json:"has_more"`
			NextCursor *string `json:"next_cursor"`
		}
		path := "/v1/blocks/" + url.PathEscape(blockID) + "/children?" + q.Encode()
		if err := c.do(ctx, "get_block_children", http.MethodGet, path, nil, &res); err != nil {
			return nil, err
		}
		out = append(out, res.Results...)
		if !res.HasMore || res.NextCursor == nil || *res.NextCursor == "" {
			return out, nil
		}
		cursor = *res.NextCursor
	}
}

// ReplaceBlockChildren deletes the existing top-level children of a page and
// appends the given blocks in their place.
func (c *Client) ReplaceBlockChildren(ctx context.Context, pageID string, blocks []Block) error {
	existing, err := c.GetBlockChildren(ctx, pageID)
	if err != nil {
		return fmt.Errorf("list existing content: %w", err)
	}
	for _, b := range existing {
		if err := c.do(ctx, "delete_block", http.MethodDelete, "/v1/blocks/"+url.PathEscape(b.ID), nil, nil); err != nil {
			return fmt.Errorf("delete block %s: %w", b.ID, err)
		}
	}
	return c.appendChildren(ctx, pageID, blocks)
}

func (c *Client) appendChildren(ctx context.Context, blockID string, blocks []Block) error {
	for len(blocks) > 0 {
		var batch []Block
		batch, blocks = splitBatch(blocks)
		body := map[string]any{"children": batch}
		if err := c.do(ctx, "append_block_children", http.MethodPatch, "/v1/blocks/"+url.PathEscape(blockID)+"/children", body, nil); err != nil {
			return err
		}
	}
	return nil
}

func splitBatch(blocks []Block) ([]Block, []Block) {
	if len(blocks) <= appendBatchSize {
		return blocks, nil
	}
	return blocks[:appendBatchSize], blocks[appendBatchSize:]
}

// do runs one logical API call through the circuit breaker.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("notion %s: encode request: %w", op, err)
		}
	}

	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.doWithRetry(ctx, op, method, path, payload, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.NotionRequests.WithLabelValues(op, "rejected").Inc()
		return fmt.Errorf("notion %s: %w", op, err)
	}
	return err
}

func (c *Client) doWithRetry(ctx context.Context, op, method, path string, payload []byte, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		retryAfter, err := c.doOnce(ctx, op, method, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retryable(op, err) {
			return err
		}
		if attempt == c.maxRetries {
			break
		}

		delay := c.baseBackoff * (1 << attempt)
		if retryAfter > 0 {
			delay = retryAfter
		}
		appLog.Warn("notion request failed, retrying",
			"op", op,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"retry_delay", delay.String(),
			"err", err.Error(),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("notion %s: giving up after %d retries: %w", op, c.maxRetries, lastErr)
}

// nonIdempotent calls may already have been applied when the connection
// drops or a 5xx comes back. Retrying those could duplicate a page, so they
// are only retried when the server rejected them outright with a 429.
var nonIdempotent = map[string]bool{
	"create_page":           true,
	"append_block_children": true,
}

func retryable(op string, err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if nonIdempotent[op] {
			return apiErr.Status == http.StatusTooManyRequests
		}
		return apiErr.Retryable()
	}
	return !nonIdempotent[op]
}

// doOnce issues a single HTTP request. The returned duration is the server's
// Retry-After hint, if any.
func (c *Client) doOnce(ctx context.Context, op, method, path string, payload []byte, out any) (time.Duration, error) {
	var reader io.Reader = http.NoBody
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", c.version)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.NotionRequests.WithLabelValues(op, "transport_error").Inc()
		return 0, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	metrics.NotionRequests.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		apiErr.Status = resp.StatusCode
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return parseRetryAfter(resp.Header.Get("Retry-After")), apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	return 0, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
