// Package remote provides the client for the multi-tenant remote row store.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Row is a flat JSON-serializable field map.
type Row map[string]interface{}

// Store is a table-oriented remote row store.
type Store interface {
	Insert(ctx context.Context, table string, row Row) error
	// Update applies row to the record whose id equals id.
	Update(ctx context.Context, table, id string, row Row) error
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method     string
	Table      string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d: %s", e.Method, e.Table, e.StatusCode, e.Body)
}

// Permanent reports whether retrying the same request cannot succeed.
func (e *StatusError) Permanent() bool {
	if e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests {
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// Config holds remote connection configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// AccessToken returns the bearer token for a request. Defaults to APIKey.
	AccessToken func(ctx context.Context) string
}

// Client implements Store over a PostgREST-style HTTP API.
type Client struct {
	config     Config
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new Client.
func NewClient(config Config) (*Client, error) {
	u, err := url.Parse(config.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid remote base url %q", config.BaseURL)
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Client{
		config:  config,
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}, nil
}

// Insert creates a row in table.
func (c *Client) Insert(ctx context.Context, table string, row Row) error {
	return c.do(ctx, http.MethodPost, table, c.tableURL(table), row)
}

// Update patches the row with the given id in table.
func (c *Client) Update(ctx context.Context, table, id string, row Row) error {
	if id == "" {
		return fmt.Errorf("update %s: empty id", table)
	}
	target := c.tableURL(table) + "?id=eq." + url.QueryEscape(id)
	return c.do(ctx, http.MethodPatch, table, target, row)
}

func (c *Client) tableURL(table string) string {
	return c.baseURL + "/rest/v1/" + url.PathEscape(table)
}

func (c *Client) do(ctx context.Context, method, table, target string, row Row) error {
	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to encode row: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	token := c.config.APIKey
	if c.config.AccessToken != nil {
		if t := c.config.AccessToken(ctx); t != "" {
			token = t
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")
	req.Header.Set("apikey", c.config.APIKey)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", strings.ToLower(method), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{
			Method:     method,
			Table:      table,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(msg)),
		}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
