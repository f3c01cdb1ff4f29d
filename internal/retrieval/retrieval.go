// Package retrieval orchestrates hybrid search: query rewriting, dense and
// sparse encoding, server-side fusion, optional reranking, and the degraded
// dense-only fallback when the hybrid path is unavailable.
package retrieval

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kestrelworks/guildsight/internal/embeddings"
	"github.com/kestrelworks/guildsight/internal/logging"
	"github.com/kestrelworks/guildsight/internal/vectorindex"
)

// ErrEmptyQuery indicates a blank query after rewriting.
var ErrEmptyQuery = errors.New("retrieval: empty query")

// DefaultLimit when the caller does not specify one.
const DefaultLimit = 10

// Searcher is the vector index surface retrieval needs. *vectorindex.Index
// satisfies it.
type Searcher interface {
	HybridSearch(ctx context.Context, p vectorindex.SearchParams, dense []float32, sparse embeddings.SparseVector) ([]vectorindex.Hit, error)
	DenseSearch(ctx context.Context, collection string, p vectorindex.SearchParams, dense []float32, minScore float32) ([]vectorindex.Hit, error)
}

// Params describes one retrieval request.
type Params struct {
	TenantID   int64
	ChannelIDs []int64
	Query      string
	Limit      int
}

// Result is one retrieved candidate. Score is the final ranking score;
// FusionScore preserves what the index returned before any reranking.
type Result struct {
	ID          string
	Score       float32
	FusionScore float32
	RerankScore float32
	TenantID    int64
	ChannelID   int64
	SourceType  string
	MessageIDs  []int64
	Preview     string
	ParentFile  string
	Degraded    bool
}

// Config for the retriever.
type Config struct {
	LegacyCollection string
	RerankEnabled    bool
	RerankWeight     float32
	MinDenseScore    float32
}

// Retriever runs the search pipeline.
type Retriever struct {
	searcher Searcher
	embedder embeddings.Embedder
	sparse   *embeddings.SparseEncoder
	reranker *TermOverlapReranker
	cfg      Config
	logger   *logging.Logger
}

// New builds a retriever.
func New(searcher Searcher, embedder embeddings.Embedder, sparse *embeddings.SparseEncoder, cfg Config, logger *logging.Logger) *Retriever {
	if cfg.MinDenseScore <= 0 {
		cfg.MinDenseScore = 0.2
	}
	return &Retriever{
		searcher: searcher,
		embedder: embedder,
		sparse:   sparse,
		reranker: NewTermOverlapReranker(cfg.RerankWeight),
		cfg:      cfg,
		logger:   logger.Named("retrieval"),
	}
}

// Search runs the full pipeline. When the query mentions uploaded documents
// (by keyword or by a stripped attachment marker) an extra document-scoped
// search runs and its hits are merged ahead of same-scored conversation
// hits. If the hybrid path fails or returns nothing, the legacy dense
// collection answers instead, marked Degraded.
func (r *Retriever) Search(ctx context.Context, p Params) ([]Result, error) {
	hadMarker := HadAttachmentMarker(p.Query)
	query := RewriteQuery(p.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	dense, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}
	sparse := r.sparse.Encode(query)

	// Rerank wants a wider candidate pool to choose from.
	fetchLimit := limit
	if r.cfg.RerankEnabled {
		fetchLimit = limit * rerankOversample
	}

	params := vectorindex.SearchParams{
		TenantID:   p.TenantID,
		ChannelIDs: p.ChannelIDs,
		Limit:      fetchLimit,
	}

	hits, err := r.searcher.HybridSearch(ctx, params, dense, sparse)
	if err != nil {
		if errors.Is(err, vectorindex.ErrMissingTenant) {
			return nil, err
		}
		r.logger.Warn(ctx, "hybrid search unavailable, dense fallback",
			zap.Error(err), zap.Int64("tenant_id", p.TenantID))
		return r.denseFallback(ctx, params, dense, limit)
	}
	results := toResults(hits, false)

	if hadMarker || HasDocumentIntent(query) {
		results = r.mergeDocumentHits(ctx, params, dense, sparse, results)
	}

	// An empty hybrid answer falls back the same way a failed one does:
	// the legacy collection may still hold points from before migration.
	if len(results) == 0 {
		return r.denseFallback(ctx, params, dense, limit)
	}

	if r.cfg.RerankEnabled {
		results = r.reranker.Rerank(query, results, limit)
	} else if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// mergeDocumentHits runs a document-only search and merges its hits in
// front of any conversation hit they would tie with. Duplicates keep the
// first (document) occurrence.
func (r *Retriever) mergeDocumentHits(ctx context.Context, params vectorindex.SearchParams, dense []float32, sparse embeddings.SparseVector, base []Result) []Result {
	docParams := params
	docParams.SourceTypes = []string{vectorindex.SourceDocument}
	docHits, err := r.searcher.HybridSearch(ctx, docParams, dense, sparse)
	if err != nil {
		r.logger.Warn(ctx, "document-biased search failed", zap.Error(err))
		return base
	}

	merged := toResults(docHits, false)
	seen := make(map[string]bool, len(merged))
	for _, res := range merged {
		seen[res.ID] = true
	}
	for _, res := range base {
		if !seen[res.ID] {
			merged = append(merged, res)
		}
	}
	return merged
}

func (r *Retriever) denseFallback(ctx context.Context, params vectorindex.SearchParams, dense []float32, limit int) ([]Result, error) {
	params.Limit = limit
	hits, err := r.searcher.DenseSearch(ctx, r.cfg.LegacyCollection, params, dense, r.cfg.MinDenseScore)
	if err != nil {
		return nil, fmt.Errorf("retrieval: dense fallback: %w", err)
	}
	return toResults(hits, true), nil
}

func toResults(hits []vectorindex.Hit, degraded bool) []Result {
	out := make([]Result, len(hits))
	for i, h := range hits {
		out[i] = Result{
			ID:          h.ID,
			Score:       h.Score,
			FusionScore: h.Score,
			TenantID:    h.TenantID,
			ChannelID:   h.ChannelID,
			SourceType:  h.SourceType,
			MessageIDs:  h.MessageIDs,
			Preview:     h.Preview,
			ParentFile:  h.ParentFile,
			Degraded:    degraded,
		}
	}
	return out
}
