// Package embeddings provides dense and sparse text encodings.
//
// Dense vectors come from a pluggable provider: local ONNX models via
// fastembed, or remote APIs via langchaingo. Sparse vectors are BM25-style
// term weights computed locally; both feed the hybrid collection.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/kestrelworks/guildsight/internal/config"
)

var (
	// ErrInvalidConfig indicates an unsupported provider or model.
	ErrInvalidConfig = errors.New("embeddings: invalid config")
	// ErrEmptyInput indicates nothing to embed.
	ErrEmptyInput = errors.New("embeddings: empty input")
	// ErrEmbeddingFailed wraps provider failures.
	ErrEmbeddingFailed = errors.New("embeddings: embedding failed")
)

// Embedder generates dense embeddings.
type Embedder interface {
	// EmbedDocuments embeds passages for storage.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the vector width.
	Dimension() int
	// Close releases provider resources.
	Close() error
}

// NewEmbedder constructs the configured dense provider.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingsConfig, apiKeys map[string]string) (Embedder, error) {
	switch cfg.Provider {
	case "local":
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	case "openai", "googleai":
		return NewRemoteEmbedder(ctx, cfg.Provider, cfg.Model, apiKeys[cfg.Provider])
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
