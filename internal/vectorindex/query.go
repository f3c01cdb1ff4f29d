package vectorindex

import (
	"context"

	"github.com/qdrant/go-client/qdrant"

	"github.com/kestrelworks/guildsight/internal/embeddings"
)

// prefetchOversample is how many candidates each leg fetches per requested
// result before fusion.
const prefetchOversample = 3

// SearchParams describes one tenant-scoped search. ChannelIDs is any-of;
// SourceTypes is any-of; both empty means unfiltered within the tenant.
type SearchParams struct {
	TenantID    int64
	ChannelIDs  []int64
	SourceTypes []string
	Limit       int
}

// buildFilter assembles the mandatory tenant filter plus optional channel
// and source-type conditions.
func buildFilter(p SearchParams) (*qdrant.Filter, error) {
	if p.TenantID == 0 {
		return nil, ErrMissingTenant
	}
	must := []*qdrant.Condition{qdrant.NewMatchInt("tenant_id", p.TenantID)}
	if len(p.ChannelIDs) > 0 {
		must = append(must, qdrant.NewMatchInts("channel_id", p.ChannelIDs...))
	}
	if len(p.SourceTypes) > 0 {
		must = append(must, qdrant.NewMatchKeywords("source_type", p.SourceTypes...))
	}
	return &qdrant.Filter{Must: must}, nil
}

// HybridSearch fuses dense and sparse prefetches server-side with
// reciprocal-rank fusion. Each leg oversamples 3x the requested limit.
func (x *Index) HybridSearch(ctx context.Context, p SearchParams, dense []float32, sparse embeddings.SparseVector) ([]Hit, error) {
	filter, err := buildFilter(p)
	if err != nil {
		return nil, err
	}
	limit := uint64(p.Limit)
	prefetchLimit := limit * prefetchOversample

	query := &qdrant.QueryPoints{
		CollectionName: x.cfg.HybridCollection,
		Prefetch: []*qdrant.PrefetchQuery{
			{
				Query:  qdrant.NewQueryDense(dense),
				Using:  qdrant.PtrOf(DenseVectorName),
				Filter: filter,
				Limit:  qdrant.PtrOf(prefetchLimit),
			},
			{
				Query:  qdrant.NewQuerySparse(sparse.Indices, sparse.Values),
				Using:  qdrant.PtrOf(SparseVectorName),
				Filter: filter,
				Limit:  qdrant.PtrOf(prefetchLimit),
			},
		},
		Query:       qdrant.NewQueryFusion(qdrant.Fusion_RRF),
		Limit:       qdrant.PtrOf(limit),
		WithPayload: qdrant.NewWithPayload(true),
	}

	var scored []*qdrant.ScoredPoint
	err = x.retry(ctx, "hybrid search", func() error {
		var opErr error
		scored, opErr = x.client.Query(ctx, query)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return x.toHits(p.TenantID, scored), nil
}

// DenseSearch is the fallback path against the legacy collection, with a
// minimum score cut-off. Also serves the DM memory collection.
func (x *Index) DenseSearch(ctx context.Context, collection string, p SearchParams, dense []float32, minScore float32) ([]Hit, error) {
	filter, err := buildFilter(p)
	if err != nil {
		return nil, err
	}
	query := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(dense),
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint64(p.Limit)),
		ScoreThreshold: qdrant.PtrOf(minScore),
		WithPayload:    qdrant.NewWithPayload(true),
	}

	var scored []*qdrant.ScoredPoint
	err = x.retry(ctx, "dense search", func() error {
		var opErr error
		scored, opErr = x.client.Query(ctx, query)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return x.toHits(p.TenantID, scored), nil
}

// toHits converts scored points, dropping any point whose payload tenant
// does not match the caller. The filter already guarantees this; the check
// is the fail-closed second line.
func (x *Index) toHits(tenantID int64, scored []*qdrant.ScoredPoint) []Hit {
	hits := make([]Hit, 0, len(scored))
	for _, sp := range scored {
		tid, cid, sourceType, preview, parentFile, messageIDs := parsePayload(sp.GetPayload())
		if tid != tenantID {
			continue
		}
		hits = append(hits, Hit{
			ID:         sp.GetId().GetUuid(),
			Score:      sp.GetScore(),
			TenantID:   tid,
			ChannelID:  cid,
			SourceType: sourceType,
			MessageIDs: messageIDs,
			Preview:    preview,
			ParentFile: parentFile,
		})
	}
	return hits
}
