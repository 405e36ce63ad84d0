package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// DefaultTimeout bounds every remote call. A timed-out call counts as a
// failed attempt for retry accounting.
const DefaultTimeout = 10 * time.Second

// ClientConfig holds configuration for the REST client.
type ClientConfig struct {
	// BaseURL is the backend root, e.g. https://api.example.com
	BaseURL string

	// APIKey is sent as the apikey header and bearer token.
	APIKey string

	// Timeout bounds each call (default: DefaultTimeout).
	Timeout time.Duration

	// Logger for client activity (default: stderr logger).
	Logger *log.Logger
}

// Client is a REST implementation of Backend against a PostgREST-style
// row API: /rest/v1/{table} with ?col=eq.val filtering and upserts via
// the merge-duplicates preference.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	timeout time.Duration
	logger  *log.Logger
}

// NewClient creates a REST backend client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{},
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Upsert implements Backend.Upsert.
func (c *Client) Upsert(ctx context.Context, table string, row map[string]any) error {
	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to encode %s row: %w", table, err)
	}

	req, cancel, err := c.newRequest(ctx, http.MethodPost, c.tableURL(table, nil), body)
	if err != nil {
		return err
	}
	defer cancel()
	req.Header.Set("Prefer", "resolution=merge-duplicates")

	return c.doWrite(req, table)
}

// Update implements Backend.Update.
func (c *Client) Update(ctx context.Context, table, id string, fields map[string]any) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode %s update: %w", table, err)
	}

	query := url.Values{"id": {"eq." + id}}
	req, cancel, err := c.newRequest(ctx, http.MethodPatch, c.tableURL(table, query), body)
	if err != nil {
		return err
	}
	defer cancel()

	return c.doWrite(req, table)
}

// Delete implements Backend.Delete.
func (c *Client) Delete(ctx context.Context, table, id string) error {
	query := url.Values{"id": {"eq." + id}}
	req, cancel, err := c.newRequest(ctx, http.MethodDelete, c.tableURL(table, query), nil)
	if err != nil {
		return err
	}
	defer cancel()

	return c.doWrite(req, table)
}

// SelectOne implements Backend.SelectOne.
func (c *Client) SelectOne(ctx context.Context, table string, f Filter) (map[string]any, error) {
	query := url.Values{"select": {"*"}, "limit": {"1"}}
	for _, cond := range f.Eq {
		query.Set(cond.Field, "eq."+cond.Value)
	}
	if len(f.Or) > 0 {
		parts := make([]string, len(f.Or))
		for i, cond := range f.Or {
			parts[i] = fmt.Sprintf("%s.eq.%s", cond.Field, cond.Value)
		}
		query.Set("or", "("+strings.Join(parts, ",")+")")
	}

	req, cancel, err := c.newRequest(ctx, http.MethodGet, c.tableURL(table, query), nil)
	if err != nil {
		return nil, err
	}
	defer cancel()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("select from %s failed: %w", table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.statusError(resp, table)
	}

	var rows []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}

	return rows[0], nil
}

func (c *Client) tableURL(table string, query url.Values) string {
	u := c.baseURL + "/rest/v1/" + table
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) newRequest(ctx context.Context, method, u string, body []byte) (*http.Request, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	return req, cancel, nil
}

func (c *Client) doWrite(req *http.Request, table string) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", req.Method, table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError(resp, table)
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) statusError(resp *http.Response, table string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("remote %s returned %d for %s: %s",
		resp.Request.Method, resp.StatusCode, table, strings.TrimSpace(string(body)))
}
