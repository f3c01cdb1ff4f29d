package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelworks/guildsight/internal/embeddings"
	"github.com/kestrelworks/guildsight/internal/logging"
	"github.com/kestrelworks/guildsight/internal/vectorindex"
)

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}
func (fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}
func (fakeEmbedder) Dimension() int { return 2 }
func (fakeEmbedder) Close() error   { return nil }

type fakeSearcher struct {
	hybridHits  []vectorindex.Hit
	hybridErr   error
	denseHits   []vectorindex.Hit
	denseErr    error
	hybridCalls []vectorindex.SearchParams
	denseCalls  int
}

func (f *fakeSearcher) HybridSearch(_ context.Context, p vectorindex.SearchParams, _ []float32, _ embeddings.SparseVector) ([]vectorindex.Hit, error) {
	f.hybridCalls = append(f.hybridCalls, p)
	if f.hybridErr != nil {
		return nil, f.hybridErr
	}
	if len(p.SourceTypes) == 1 && p.SourceTypes[0] == vectorindex.SourceDocument {
		var docs []vectorindex.Hit
		for _, h := range f.hybridHits {
			if h.SourceType == vectorindex.SourceDocument {
				docs = append(docs, h)
			}
		}
		return docs, nil
	}
	return f.hybridHits, nil
}

func (f *fakeSearcher) DenseSearch(_ context.Context, _ string, p vectorindex.SearchParams, _ []float32, _ float32) ([]vectorindex.Hit, error) {
	f.denseCalls++
	if f.denseErr != nil {
		return nil, f.denseErr
	}
	return f.denseHits, nil
}

func newRetriever(s Searcher, cfg Config) *Retriever {
	logger := logging.NewNopLogger()
	return New(s, fakeEmbedder{}, embeddings.NewSparseEncoder(), cfg, logger)
}

func hit(id string, score float32, sourceType, preview string) vectorindex.Hit {
	return vectorindex.Hit{
		ID: id, Score: score, TenantID: 7, ChannelID: 1,
		SourceType: sourceType, Preview: preview,
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	r := newRetriever(&fakeSearcher{}, Config{})
	_, err := r.Search(context.Background(), Params{TenantID: 7, Query: "  [Attachments: a.pdf]  "})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestSearchHappyPath(t *testing.T) {
	s := &fakeSearcher{hybridHits: []vectorindex.Hit{
		hit("a", 0.9, vectorindex.SourceChat, "deploy broke friday"),
		hit("b", 0.5, vectorindex.SourceChat, "lunch plans"),
	}}
	r := newRetriever(s, Config{})

	got, err := r.Search(context.Background(), Params{TenantID: 7, Query: "deploy failure", Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.False(t, got[0].Degraded)
	assert.Equal(t, got[0].Score, got[0].FusionScore, "no rerank keeps fusion score")
	assert.Zero(t, s.denseCalls)
}

func TestSearchDenseFallbackOnHybridFailure(t *testing.T) {
	s := &fakeSearcher{
		hybridErr: vectorindex.ErrCircuitOpen,
		denseHits: []vectorindex.Hit{hit("a", 0.4, vectorindex.SourceChat, "x")},
	}
	r := newRetriever(s, Config{LegacyCollection: "sessions"})

	got, err := r.Search(context.Background(), Params{TenantID: 7, Query: "anything", Limit: 5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Degraded)
	assert.Equal(t, 1, s.denseCalls)
}

func TestSearchDenseFallbackOnEmptyHybrid(t *testing.T) {
	s := &fakeSearcher{
		denseHits: []vectorindex.Hit{hit("a", 0.4, vectorindex.SourceChat, "x")},
	}
	r := newRetriever(s, Config{LegacyCollection: "sessions"})

	got, err := r.Search(context.Background(), Params{TenantID: 7, Query: "anything", Limit: 5})
	require.NoError(t, err)
	require.Len(t, got, 1, "legacy collection answers when hybrid has no points")
	assert.True(t, got[0].Degraded)
	assert.Equal(t, 1, s.denseCalls)
}

func TestSearchMissingTenantNotRetried(t *testing.T) {
	s := &fakeSearcher{hybridErr: vectorindex.ErrMissingTenant}
	r := newRetriever(s, Config{})
	_, err := r.Search(context.Background(), Params{Query: "q"})
	assert.ErrorIs(t, err, vectorindex.ErrMissingTenant)
	assert.Zero(t, s.denseCalls, "tenant errors must not fall back")
}

func TestSearchBothPathsFail(t *testing.T) {
	s := &fakeSearcher{hybridErr: errors.New("down"), denseErr: errors.New("also down")}
	r := newRetriever(s, Config{})
	_, err := r.Search(context.Background(), Params{TenantID: 7, Query: "q"})
	assert.Error(t, err)
}

func TestDocumentIntentMergesDocHitsFirst(t *testing.T) {
	s := &fakeSearcher{hybridHits: []vectorindex.Hit{
		hit("chat1", 0.9, vectorindex.SourceChat, "talking"),
		hit("doc1", 0.8, vectorindex.SourceDocument, "handbook chapter"),
	}}
	r := newRetriever(s, Config{})

	got, err := r.Search(context.Background(), Params{TenantID: 7, Query: "what does the uploaded document say", Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 2, "doc1 deduplicated across the two searches")
	assert.Equal(t, "doc1", got[0].ID, "document hits lead")
	assert.Equal(t, "chat1", got[1].ID)
	require.Len(t, s.hybridCalls, 2)
	assert.Equal(t, []string{vectorindex.SourceDocument}, s.hybridCalls[1].SourceTypes)
}

func TestAttachmentMarkerTriggersDocumentBias(t *testing.T) {
	s := &fakeSearcher{hybridHits: []vectorindex.Hit{
		hit("chat1", 0.9, vectorindex.SourceChat, "talking"),
		hit("doc1", 0.8, vectorindex.SourceDocument, "quarterly numbers"),
	}}
	r := newRetriever(s, Config{})

	// No keyword survives rewriting; the stripped marker alone must bias.
	got, err := r.Search(context.Background(), Params{TenantID: 7, Query: "summarize this [Attachments: report.pdf]", Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "doc1", got[0].ID, "document hits lead")
	require.Len(t, s.hybridCalls, 2)
	assert.Equal(t, []string{vectorindex.SourceDocument}, s.hybridCalls[1].SourceTypes)
}

func TestRerankOversamplesAndTruncates(t *testing.T) {
	s := &fakeSearcher{hybridHits: []vectorindex.Hit{
		hit("a", 0.9, vectorindex.SourceChat, "nothing relevant here"),
		hit("b", 0.8, vectorindex.SourceChat, "kubernetes upgrade steps"),
		hit("c", 0.7, vectorindex.SourceChat, "random chatter"),
	}}
	r := newRetriever(s, Config{RerankEnabled: true, RerankWeight: 0.6})

	got, err := r.Search(context.Background(), Params{TenantID: 7, Query: "kubernetes upgrade", Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID, "lexical match outranks higher fusion score")
	require.Len(t, s.hybridCalls, 1)
	assert.Equal(t, 4, s.hybridCalls[0].Limit, "2x oversample for reranking")
}

func TestRewriteQuery(t *testing.T) {
	assert.Equal(t, "summarize this", RewriteQuery("summarize this [Attachments: report.pdf, img.png]"))
	assert.Equal(t, "a b", RewriteQuery("  a   b  "))
	assert.Equal(t, "before after", RewriteQuery("before [Attachment: x.txt] after"))
}

func TestHasDocumentIntent(t *testing.T) {
	assert.True(t, HasDocumentIntent("what's in the PDF?"))
	assert.True(t, HasDocumentIntent("summarize the uploaded files"))
	assert.False(t, HasDocumentIntent("who filed the issue"), "substring must not match")
	assert.False(t, HasDocumentIntent("what happened yesterday"))
}

func TestRerankBlendWeights(t *testing.T) {
	rr := NewTermOverlapReranker(0.6)
	results := []Result{
		{ID: "a", FusionScore: 1.0, Preview: "unrelated words entirely"},
		{ID: "b", FusionScore: 0.5, Preview: "alpha beta gamma"},
	}
	got := rr.Rerank("alpha beta gamma", results, 0)
	require.Len(t, got, 2)
	// b: 0.6*1.0 + 0.4*0.5 = 0.8; a: 0.6*0 + 0.4*1.0 = 0.4
	assert.Equal(t, "b", got[0].ID)
	assert.InDelta(t, 0.8, float64(got[0].Score), 1e-6)
	assert.InDelta(t, 0.4, float64(got[1].Score), 1e-6)
	assert.InDelta(t, 1.0, float64(got[0].RerankScore), 1e-6)
}

func TestRerankNoQueryTermsKeepsOrder(t *testing.T) {
	rr := NewTermOverlapReranker(0.6)
	results := []Result{{ID: "a", FusionScore: 0.9}, {ID: "b", FusionScore: 0.8}}
	got := rr.Rerank("of the and", results, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}
