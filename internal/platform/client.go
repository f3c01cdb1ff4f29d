// Package platform adapts the chat platform's REST and webhook surfaces.
// The rest of the system sees typed ingest events; the platform's wire
// format stays inside this package.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/kestrelworks/guildsight/internal/ingest"
)

var (
	// ErrNotConfigured indicates the client has no base URL.
	ErrNotConfigured = errors.New("platform: not configured")
	// ErrRequestFailed wraps transport and API failures.
	ErrRequestFailed = errors.New("platform: request failed")
)

// Defaults.
const (
	DefaultTimeout = 15 * time.Second
	historyPage    = 100
)

// Config for the REST client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client calls the platform REST API.
type Client struct {
	cfg  Config
	http *http.Client
}

// New builds a client; a zero timeout takes the default.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Reply delivers an answer. A non-empty token targets the deferred-reply
// endpoint for the originating command; otherwise the message posts
// directly to the channel.
func (c *Client) Reply(ctx context.Context, token string, channelID int64, text string) error {
	if c.cfg.BaseURL == "" {
		return ErrNotConfigured
	}
	var url string
	if token != "" {
		url = fmt.Sprintf("%s/interactions/%s/reply", c.cfg.BaseURL, token)
	} else {
		url = fmt.Sprintf("%s/channels/%d/messages", c.cfg.BaseURL, channelID)
	}

	body, err := json.Marshal(map[string]string{"content": text})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	resp, err := c.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
	}
	return nil
}

// ChannelHistory pages through a channel's messages newest-cursor-forward
// and returns everything at or after since, oldest first.
func (c *Client) ChannelHistory(ctx context.Context, tenantID, channelID int64, since time.Time) ([]ingest.MessageEvent, error) {
	if c.cfg.BaseURL == "" {
		return nil, ErrNotConfigured
	}

	var out []ingest.MessageEvent
	after := int64(0)
	for {
		url := fmt.Sprintf("%s/channels/%d/messages?after=%d&limit=%d",
			c.cfg.BaseURL, channelID, after, historyPage)
		resp, err := c.do(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
		}

		var page []wireMessage
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
		}
		if len(page) == 0 {
			return out, nil
		}
		for _, m := range page {
			ev, err := m.toEvent(tenantID)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
			}
			if m.ID > after {
				after = m.ID
			}
			if ev.Timestamp.Before(since) {
				continue
			}
			out = append(out, ev)
		}
		if len(page) < historyPage {
			return out, nil
		}
	}
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bot "+c.cfg.Token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	return resp, nil
}

// wireMessage is the platform's message shape.
type wireMessage struct {
	ID          int64            `json:"id"`
	ChannelID   int64            `json:"channel_id"`
	ChannelName string           `json:"channel_name"`
	Author      wireAuthor       `json:"author"`
	Content     string           `json:"content"`
	ReplyToID   *int64           `json:"reply_to_id"`
	Timestamp   string           `json:"timestamp"`
	Attachments []wireAttachment `json:"attachments"`
}

type wireAuthor struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Bot         bool   `json:"bot"`
}

type wireAttachment struct {
	ID       int64  `json:"id"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
}

func (m wireMessage) toEvent(tenantID int64) (ingest.MessageEvent, error) {
	ts, err := time.Parse(time.RFC3339, m.Timestamp)
	if err != nil {
		return ingest.MessageEvent{}, fmt.Errorf("message %s: bad timestamp %q", strconv.FormatInt(m.ID, 10), m.Timestamp)
	}
	ev := ingest.MessageEvent{
		MessageID:   m.ID,
		TenantID:    tenantID,
		ChannelID:   m.ChannelID,
		ChannelName: m.ChannelName,
		AuthorID:    m.Author.ID,
		AuthorName:  m.Author.Username,
		DisplayName: m.Author.DisplayName,
		AuthorIsBot: m.Author.Bot,
		Content:     m.Content,
		ReplyToID:   m.ReplyToID,
		Timestamp:   ts,
	}
	for _, a := range m.Attachments {
		ev.Attachments = append(ev.Attachments, ingest.AttachmentEvent{
			ID:        a.ID,
			Filename:  a.Filename,
			URL:       a.URL,
			SizeBytes: a.Size,
		})
	}
	return ev, nil
}
