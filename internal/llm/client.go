// Package llm wraps the chat-completion providers behind one client:
// provider selection, generation with history, image captioning, and a
// hot-reloadable overrides file for switching models without a restart.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/kestrelworks/guildsight/internal/config"
)

var (
	// ErrInvalidConfig indicates an unknown provider or missing key.
	ErrInvalidConfig = errors.New("llm: invalid config")
	// ErrGenerationFailed wraps provider failures.
	ErrGenerationFailed = errors.New("llm: generation failed")
	// ErrEmptyResponse indicates the provider returned no choices.
	ErrEmptyResponse = errors.New("llm: empty response")
)

// GenerateTimeout bounds every completion call.
const GenerateTimeout = 60 * time.Second

// Role of a history message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of conversation history.
type Message struct {
	Role    Role
	Content string
}

// Request describes one completion.
type Request struct {
	System      string
	History     []Message
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Client generates completions against the configured provider.
type Client struct {
	model    llms.Model
	provider string
	name     string
}

// New builds a client for cfg.Provider using the matching API key.
func New(ctx context.Context, cfg config.LLMConfig) (*Client, error) {
	return newClient(ctx, cfg.Provider, cfg.Model, cfg.APIKeys[cfg.Provider])
}

// NewVision builds a captioning client; vision requests go through the same
// GenerateContent surface with a binary image part.
func NewVision(ctx context.Context, cfg config.VisionConfig, apiKeys map[string]string) (*Client, error) {
	return newClient(ctx, cfg.Provider, cfg.Model, apiKeys[cfg.Provider])
}

func newClient(ctx context.Context, provider, model, apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: no api key for provider %q", ErrInvalidConfig, provider)
	}
	var (
		m   llms.Model
		err error
	)
	switch provider {
	case "openai":
		m, err = openai.New(openai.WithToken(apiKey), openai.WithModel(model))
	case "anthropic":
		m, err = anthropic.New(anthropic.WithToken(apiKey), anthropic.WithModel(model))
	case "googleai":
		m, err = googleai.New(ctx, googleai.WithAPIKey(apiKey), googleai.WithDefaultModel(model))
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, provider)
	}
	if err != nil {
		return nil, fmt.Errorf("llm: init %s: %w", provider, err)
	}
	return &Client{model: m, provider: provider, name: model}, nil
}

// Provider returns the active provider name.
func (c *Client) Provider() string { return c.provider }

// Model returns the active model name.
func (c *Client) Model() string { return c.name }

// Generate runs one completion with optional system framing and history.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, GenerateTimeout)
	defer cancel()

	messages := make([]llms.MessageContent, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	for _, msg := range req.History {
		role := llms.ChatMessageTypeHuman
		if msg.Role == RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, msg.Content))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	opts := []llms.CallOption{}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(req.Temperature))
	}

	resp, err := c.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

// Caption describes an image for indexing alongside extracted text.
func (c *Client) Caption(ctx context.Context, mimeType string, image []byte, instruction string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, GenerateTimeout)
	defer cancel()

	if instruction == "" {
		instruction = "Describe this image in two or three sentences for a search index."
	}
	messages := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.BinaryPart(mimeType, image),
				llms.TextPart(instruction),
			},
		},
	}
	resp, err := c.model.GenerateContent(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}
