// Package websearch is the external web search adapter. It speaks a
// Tavily-style JSON API; the answer layer never sees the wire format, only
// typed results.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrNotConfigured indicates no API key is set.
	ErrNotConfigured = errors.New("websearch: not configured")
	// ErrSearchFailed wraps transport and API failures.
	ErrSearchFailed = errors.New("websearch: search failed")
)

// Defaults.
const (
	DefaultBaseURL = "https://api.tavily.com"
	DefaultTimeout = 15 * time.Second
	DefaultLimit   = 5
)

// Result is one web hit.
type Result struct {
	Title   string
	URL     string
	Snippet string
}

// Config for the client.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client calls the search API.
type Client struct {
	cfg  Config
	http *http.Client
}

// New builds a client; zero-valued fields take defaults.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Enabled reports whether the adapter has credentials.
func (c *Client) Enabled() bool { return c.cfg.APIKey != "" }

type searchRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type searchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search runs one query, returning at most limit results.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	body, err := json.Marshal(searchRequest{
		APIKey:     c.cfg.APIKey,
		Query:      query,
		MaxResults: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrSearchFailed, resp.StatusCode, snippet)
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrSearchFailed, err)
	}

	results := make([]Result, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}
