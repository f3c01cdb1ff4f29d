package embeddings

import (
	"context"
	"fmt"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
)

// remoteDimensions are the widths of the supported remote models.
var remoteDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	"text-embedding-004":     768,
}

// RemoteEmbedder wraps a langchaingo embedder behind the Embedder interface.
type RemoteEmbedder struct {
	inner     lcembeddings.Embedder
	dimension int
}

// NewRemoteEmbedder builds an openai or googleai embedder.
func NewRemoteEmbedder(ctx context.Context, provider, model, apiKey string) (*RemoteEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: missing api key for provider %q", ErrInvalidConfig, provider)
	}
	dim, ok := remoteDimensions[model]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported remote model %q", ErrInvalidConfig, model)
	}

	var client lcembeddings.EmbedderClient
	switch provider {
	case "openai":
		llm, err := openai.New(
			openai.WithToken(apiKey),
			openai.WithEmbeddingModel(model),
		)
		if err != nil {
			return nil, fmt.Errorf("initializing openai embedder: %w", err)
		}
		client = llm
	case "googleai":
		llm, err := googleai.New(ctx,
			googleai.WithAPIKey(apiKey),
			googleai.WithDefaultEmbeddingModel(model),
		)
		if err != nil {
			return nil, fmt.Errorf("initializing googleai embedder: %w", err)
		}
		client = llm
	default:
		return nil, fmt.Errorf("%w: unknown remote provider %q", ErrInvalidConfig, provider)
	}

	inner, err := lcembeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("wrapping embedder: %w", err)
	}
	return &RemoteEmbedder{inner: inner, dimension: dim}, nil
}

func (r *RemoteEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vecs, err := r.inner.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vecs, nil
}

func (r *RemoteEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vec, err := r.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vec, nil
}

func (r *RemoteEmbedder) Dimension() int { return r.dimension }

func (r *RemoteEmbedder) Close() error { return nil }
