package thematic

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelworks/guildsight/internal/logging"
)

// corpus builds a synthetic two-topic message set: gaming chatter and
// cooking chatter, with enough repetition to survive the df floor.
func corpus() []string {
	var docs []string
	for i := 0; i < 20; i++ {
		docs = append(docs,
			fmt.Sprintf("anyone playing the new elden ring dlc tonight round %d", i),
			fmt.Sprintf("my sourdough bread recipe needs more flour batch %d", i),
		)
	}
	return docs
}

func newAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	return New(t.TempDir(), 0, nil, logging.NewNopLogger())
}

func TestBuildSeparatesTopics(t *testing.T) {
	a := newAnalyzer(t)
	analysis, err := a.Build(context.Background(), 7, corpus())
	require.NoError(t, err)

	assert.Equal(t, int64(7), analysis.TenantID)
	assert.Equal(t, 40, analysis.MessageCount)
	require.NotEmpty(t, analysis.Clusters)

	// 40 docs -> k = max(3, 4) = 4 requested; empty clusters may drop.
	assert.LessOrEqual(t, len(analysis.Clusters), 4)

	var all []string
	for _, c := range analysis.Clusters {
		assert.NotZero(t, c.Count)
		assert.LessOrEqual(t, len(c.Terms), 6)
		assert.LessOrEqual(t, len(c.Samples), 3)
		all = append(all, c.Terms...)
	}
	joined := strings.Join(all, " ")
	assert.Contains(t, joined, "elden")
	assert.Contains(t, joined, "sourdough")
}

func TestBuildInsufficientData(t *testing.T) {
	a := newAnalyzer(t)
	_, err := a.Build(context.Background(), 7, []string{"short", "also short"})
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestBuildFiltersShortMessages(t *testing.T) {
	a := newAnalyzer(t)
	docs := corpus()
	for i := 0; i < 100; i++ {
		docs = append(docs, "ok", "lol", "+1")
	}
	analysis, err := a.Build(context.Background(), 7, docs)
	require.NoError(t, err)
	assert.Equal(t, 40, analysis.MessageCount, "short messages excluded")
}

func TestBuildIsReproducible(t *testing.T) {
	a := newAnalyzer(t)
	first, err := a.Build(context.Background(), 11, corpus())
	require.NoError(t, err)
	second, err := a.Build(context.Background(), 11, corpus())
	require.NoError(t, err)

	require.Equal(t, len(first.Clusters), len(second.Clusters))
	for i := range first.Clusters {
		assert.Equal(t, first.Clusters[i].Terms, second.Clusters[i].Terms)
		assert.Equal(t, first.Clusters[i].Count, second.Clusters[i].Count)
	}
}

func TestCacheRoundTrip(t *testing.T) {
	a := newAnalyzer(t)
	built, err := a.Build(context.Background(), 9, corpus())
	require.NoError(t, err)

	cached, err := a.Cached(9)
	require.NoError(t, err)
	assert.Equal(t, built.MessageCount, cached.MessageCount)
	assert.Equal(t, len(built.Clusters), len(cached.Clusters))

	_, err = a.Cached(12345)
	assert.ErrorIs(t, err, ErrNoAnalysis)
}

type fakeSummarizer struct{ calls int }

func (f *fakeSummarizer) SummarizeCluster(_ context.Context, terms, _ []string) (string, error) {
	f.calls++
	return "about " + terms[0], nil
}

func TestSummarizerAttachesSummaries(t *testing.T) {
	summarizer := &fakeSummarizer{}
	a := New(t.TempDir(), 0, summarizer, logging.NewNopLogger())
	analysis, err := a.Build(context.Background(), 7, corpus())
	require.NoError(t, err)

	assert.Equal(t, len(analysis.Clusters), summarizer.calls)
	for _, c := range analysis.Clusters {
		assert.True(t, strings.HasPrefix(c.Summary, "about "))
	}
}

func TestClusterCount(t *testing.T) {
	assert.Equal(t, 3, clusterCount(12))
	assert.Equal(t, 3, clusterCount(30))
	assert.Equal(t, 5, clusterCount(50))
	assert.Equal(t, 8, clusterCount(80))
	assert.Equal(t, 8, clusterCount(5000))
}

func TestVectorizeDFBounds(t *testing.T) {
	docs := []string{
		"ubiquitous alpha words here",
		"ubiquitous beta tokens again",
		"ubiquitous beta tokens again",
		"ubiquitous gamma things",
		"ubiquitous delta matters",
	}
	vocab, rows := vectorize(docs)
	require.Len(t, rows, 5)
	joined := strings.Join(vocab, " ")
	assert.NotContains(t, joined, "alpha", "df=1 term excluded by the floor")
	assert.NotContains(t, joined, "ubiquitous", "df=5/5 excluded by the 0.8 ceiling")
	assert.Contains(t, joined, "beta", "df=2 survives both bounds")
}

func TestKMeansAssignsEveryRow(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	rows := [][]float64{
		{1, 0}, {0.9, 0.1}, {0.95, 0.05},
		{0, 1}, {0.1, 0.9}, {0.05, 0.95},
	}
	assign, centroids := kmeans(rows, 2, rng)
	require.Len(t, assign, 6)
	require.Len(t, centroids, 2)
	assert.Equal(t, assign[0], assign[1])
	assert.Equal(t, assign[3], assign[4])
	assert.NotEqual(t, assign[0], assign[3])
}
