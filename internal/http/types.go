package http

import "github.com/kestrelworks/guildsight/internal/agents"

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// AskRequest is the body of POST /api/v1/ask.
type AskRequest struct {
	TenantID   int64   `json:"tenant_id"`
	Query      string  `json:"query"`
	ChannelID  int64   `json:"channel_id,omitempty"`
	ChannelIDs []int64 `json:"channel_ids,omitempty"`
}

// ClassifyRequest is the body of POST /api/v1/classify.
type ClassifyRequest struct {
	Query string `json:"query"`
}

// ClassifyResponse names the routed intent.
type ClassifyResponse struct {
	Intent        string `json:"intent"`
	Deterministic bool   `json:"deterministic"`
}

// ChatRequest is one direct-message turn.
type ChatRequest struct {
	UserID   int64  `json:"user_id"`
	Message  string `json:"message"`
	TenantID *int64 `json:"tenant_id,omitempty"`
}

// ChatResponse is the assistant's reply.
type ChatResponse struct {
	Reply string `json:"reply"`
}

// SearchRequest is the body of POST /api/v1/search.
type SearchRequest struct {
	TenantID  int64  `json:"tenant_id"`
	Query     string `json:"query"`
	ChannelID int64  `json:"channel_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// SearchHit is one ranked excerpt.
type SearchHit struct {
	Score      float32 `json:"score"`
	SourceType string  `json:"source_type"`
	Preview    string  `json:"preview"`
	ChannelID  int64   `json:"channel_id"`
	ParentFile string  `json:"parent_file,omitempty"`
	Degraded   bool    `json:"degraded,omitempty"`
}

// SearchResponse is the ranked result list.
type SearchResponse struct {
	Results []SearchHit `json:"results"`
}

// SummaryRequest is the body of POST /api/v1/summary.
type SummaryRequest struct {
	TenantID  int64 `json:"tenant_id"`
	ChannelID int64 `json:"channel_id"`
	Hours     int   `json:"hours"`
}

// SummaryResponse is a channel activity digest.
type SummaryResponse struct {
	Summary      string   `json:"summary"`
	Keywords     []string `json:"keywords"`
	Participants int      `json:"participants"`
	Messages     int      `json:"messages"`
}

// ChannelInfo is one channel row.
type ChannelInfo struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	IsIndexed bool   `json:"is_indexed"`
}

// ChannelIndexRequest toggles a channel's indexing.
type ChannelIndexRequest struct {
	Indexed bool `json:"indexed"`
}

// DirectiveBody carries a tenant personality directive.
type DirectiveBody struct {
	Directive string `json:"directive"`
}

// ProviderBody selects the completion provider and model.
type ProviderBody struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// APIKeysBody maps provider names to keys. Responses carry masked values.
type APIKeysBody struct {
	Keys map[string]string `json:"keys"`
}

// AskResponse aliases the uniform answer shape.
type AskResponse = agents.Answer
