// Package thematic builds the per-tenant topic landscape: TF-IDF over a
// sample of recent messages, K-Means clustering, representative terms and
// samples per cluster, and a JSON cache so answering "what does this
// community talk about" never recomputes on the hot path. Rebuilds are
// operator-triggered, not scheduled.
package thematic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelworks/guildsight/internal/logging"
)

var (
	// ErrInsufficientData indicates too few usable messages to cluster.
	ErrInsufficientData = errors.New("thematic: insufficient data")
	// ErrNoAnalysis indicates no cached analysis for the tenant.
	ErrNoAnalysis = errors.New("thematic: no cached analysis")
)

// Sampling and output bounds.
const (
	DefaultSampleSize = 5000
	minMessageLen     = 20
	minDocs           = 12
	maxClusters       = 8
	minClusters       = 3
	termsPerCluster   = 6
	samplesPerCluster = 3
)

// Cluster is one discovered theme.
type Cluster struct {
	Terms   []string `json:"terms"`
	Count   int      `json:"count"`
	Samples []string `json:"samples"`
	Summary string   `json:"summary,omitempty"`
}

// Analysis is the cached result of one build.
type Analysis struct {
	TenantID     int64     `json:"tenant_id"`
	GeneratedAt  time.Time `json:"generated_at"`
	MessageCount int       `json:"message_count"`
	Clusters     []Cluster `json:"clusters"`
}

// Summarizer optionally names a cluster from its terms and samples.
type Summarizer interface {
	SummarizeCluster(ctx context.Context, terms, samples []string) (string, error)
}

// Analyzer builds and caches analyses.
type Analyzer struct {
	cacheDir   string
	sampleSize int
	summarizer Summarizer
	logger     *logging.Logger
}

// New builds an analyzer. summarizer may be nil; clusters then carry terms
// without a prose summary.
func New(cacheDir string, sampleSize int, summarizer Summarizer, logger *logging.Logger) *Analyzer {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	return &Analyzer{
		cacheDir:   cacheDir,
		sampleSize: sampleSize,
		summarizer: summarizer,
		logger:     logger.Named("thematic"),
	}
}

// Build clusters the given messages and replaces the tenant's cached
// analysis. Sampling and seeding derive from the tenant id so repeated
// builds over the same corpus agree.
func (a *Analyzer) Build(ctx context.Context, tenantID int64, messages []string) (*Analysis, error) {
	docs := make([]string, 0, len(messages))
	for _, msg := range messages {
		if len(msg) > minMessageLen {
			docs = append(docs, msg)
		}
	}
	rng := rand.New(rand.NewSource(tenantID))
	if len(docs) > a.sampleSize {
		rng.Shuffle(len(docs), func(i, j int) { docs[i], docs[j] = docs[j], docs[i] })
		docs = docs[:a.sampleSize]
	}
	if len(docs) < minDocs {
		return nil, fmt.Errorf("%w: %d usable messages", ErrInsufficientData, len(docs))
	}

	vocab, rows := vectorize(docs)
	if len(vocab) == 0 {
		return nil, fmt.Errorf("%w: empty vocabulary", ErrInsufficientData)
	}

	k := clusterCount(len(docs))
	assign, centroids := kmeans(rows, k, rng)

	analysis := &Analysis{
		TenantID:     tenantID,
		GeneratedAt:  time.Now().UTC(),
		MessageCount: len(docs),
		Clusters:     a.describeClusters(ctx, docs, rows, vocab, assign, centroids),
	}

	if err := a.store(analysis); err != nil {
		a.logger.Warn(ctx, "analysis cache write failed", zap.Error(err))
	}
	a.logger.Info(ctx, "thematic analysis built",
		zap.Int64("tenant_id", tenantID),
		zap.Int("messages", len(docs)),
		zap.Int("clusters", len(analysis.Clusters)),
	)
	return analysis, nil
}

// clusterCount is min(8, max(3, n/10)).
func clusterCount(n int) int {
	k := n / 10
	if k < minClusters {
		k = minClusters
	}
	if k > maxClusters {
		k = maxClusters
	}
	return k
}

func (a *Analyzer) describeClusters(ctx context.Context, docs []string, rows [][]float64, vocab []string, assign []int, centroids [][]float64) []Cluster {
	clusters := make([]Cluster, 0, len(centroids))
	for c, centroid := range centroids {
		var members []int
		for i, cluster := range assign {
			if cluster == c {
				members = append(members, i)
			}
		}
		if len(members) == 0 {
			continue
		}

		cluster := Cluster{
			Terms:   topTerms(centroid, vocab, termsPerCluster),
			Count:   len(members),
			Samples: nearestSamples(docs, rows, centroid, members, samplesPerCluster),
		}
		if a.summarizer != nil {
			summary, err := a.summarizer.SummarizeCluster(ctx, cluster.Terms, cluster.Samples)
			if err != nil {
				a.logger.Warn(ctx, "cluster summary failed", zap.Error(err))
			} else {
				cluster.Summary = summary
			}
		}
		clusters = append(clusters, cluster)
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].Count > clusters[j].Count })
	return clusters
}

func topTerms(centroid []float64, vocab []string, n int) []string {
	type weighted struct {
		term   string
		weight float64
	}
	terms := make([]weighted, 0, len(vocab))
	for i, w := range centroid {
		if w > 0 {
			terms = append(terms, weighted{vocab[i], w})
		}
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].weight != terms[j].weight {
			return terms[i].weight > terms[j].weight
		}
		return terms[i].term < terms[j].term
	})
	if len(terms) > n {
		terms = terms[:n]
	}
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = t.term
	}
	return out
}

func nearestSamples(docs []string, rows [][]float64, centroid []float64, members []int, n int) []string {
	sort.Slice(members, func(i, j int) bool {
		return sqDist(rows[members[i]], centroid) < sqDist(rows[members[j]], centroid)
	})
	if len(members) > n {
		members = members[:n]
	}
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = docs[m]
	}
	return out
}

// Cached returns the tenant's last analysis, if any.
func (a *Analyzer) Cached(tenantID int64) (*Analysis, error) {
	data, err := os.ReadFile(a.cachePath(tenantID))
	if os.IsNotExist(err) {
		return nil, ErrNoAnalysis
	}
	if err != nil {
		return nil, fmt.Errorf("thematic: read cache: %w", err)
	}
	var analysis Analysis
	if err := json.Unmarshal(data, &analysis); err != nil {
		return nil, fmt.Errorf("thematic: corrupt cache: %w", err)
	}
	return &analysis, nil
}

// store replaces the cache file atomically so a concurrent read never sees
// a partial write.
func (a *Analyzer) store(analysis *Analysis) error {
	if a.cacheDir == "" {
		return nil
	}
	if err := os.MkdirAll(a.cacheDir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(analysis)
	if err != nil {
		return err
	}
	path := a.cachePath(analysis.TenantID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (a *Analyzer) cachePath(tenantID int64) string {
	return filepath.Join(a.cacheDir, fmt.Sprintf("topics_%d.json", tenantID))
}
