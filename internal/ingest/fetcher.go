package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kestrelworks/guildsight/internal/attachments"
)

const fetchTimeout = 30 * time.Second

// HTTPFetcher downloads attachment content from the platform CDN. Reads
// are capped just past the attachment size limit so a lying Content-Length
// cannot balloon memory.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher builds a fetcher with a bounded timeout.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{client: &http.Client{Timeout: fetchTimeout}}
}

// Fetch downloads url, returning ErrTooLarge when the body exceeds the
// attachment size limit.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ingest: build fetch request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ingest: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ingest: fetch %s: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, attachments.MaxSizeBytes+1))
	if err != nil {
		return nil, fmt.Errorf("ingest: read body: %w", err)
	}
	if int64(len(data)) > attachments.MaxSizeBytes {
		return nil, attachments.ErrTooLarge
	}
	return data, nil
}
