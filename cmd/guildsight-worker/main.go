// Guildsight-worker consumes the task queue: session indexing, attachment
// processing, purges, topic rebuilds, deferred asks, and backfills. It also
// owns the periodic stale-binding sweep.
//
// Usage:
//
//	QUEUE_URL=nats://localhost:4222 guildsight-worker -config /etc/guildsight/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/kestrelworks/guildsight/internal/agents"
	"github.com/kestrelworks/guildsight/internal/config"
	"github.com/kestrelworks/guildsight/internal/consistency"
	"github.com/kestrelworks/guildsight/internal/embeddings"
	"github.com/kestrelworks/guildsight/internal/ingest"
	"github.com/kestrelworks/guildsight/internal/llm"
	"github.com/kestrelworks/guildsight/internal/logging"
	"github.com/kestrelworks/guildsight/internal/memory"
	"github.com/kestrelworks/guildsight/internal/platform"
	"github.com/kestrelworks/guildsight/internal/queue"
	"github.com/kestrelworks/guildsight/internal/retrieval"
	"github.com/kestrelworks/guildsight/internal/router"
	"github.com/kestrelworks/guildsight/internal/sessionizer"
	"github.com/kestrelworks/guildsight/internal/store"
	"github.com/kestrelworks/guildsight/internal/thematic"
	"github.com/kestrelworks/guildsight/internal/vectorindex"
	"github.com/kestrelworks/guildsight/internal/websearch"
	"github.com/kestrelworks/guildsight/internal/worker"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 && args[0] == "version" {
		fmt.Printf("guildsight-worker %s\n", version)
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Worker error: %v", err)
	}
	log.Println("Worker shutdown complete")
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.NewDefaultConfig())
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	st, err := store.New(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	index, err := vectorindex.New(ctx, cfg.Vector, logger)
	if err != nil {
		return fmt.Errorf("init vector index: %w", err)
	}
	defer index.Close()
	if err := index.EnsureCollections(ctx); err != nil {
		return fmt.Errorf("ensure collections: %w", err)
	}

	q, err := queue.New(queue.Config{URL: cfg.Queue.URL, StreamName: cfg.Queue.StreamName}, logger)
	if err != nil {
		return fmt.Errorf("init queue: %w", err)
	}
	defer q.Close()

	switcher, err := llm.NewSwitcher(ctx, cfg.LLM, cfg.Overrides.Path, logger)
	if err != nil {
		return fmt.Errorf("init llm: %w", err)
	}
	defer switcher.Stop()
	if err := switcher.Watch(ctx); err != nil {
		logger.Warn(ctx, "overrides watch unavailable", zap.Error(err))
	}

	embedder, err := embeddings.NewEmbedder(ctx, cfg.Embeddings, cfg.LLM.APIKeys)
	if err != nil {
		return fmt.Errorf("init embeddings: %w", err)
	}
	defer embedder.Close()
	sparse := embeddings.NewSparseEncoder()

	sess := sessionizer.New(sessionizer.DefaultConfig(), embedder, logger)
	indexer := ingest.NewIndexer(st, index, sess, embedder, sparse, logger)
	coordinator := consistency.New(st, index, q, logger)

	var vision ingest.Captioner
	if visionClient, err := llm.NewVision(ctx, cfg.Vision, cfg.LLM.APIKeys); err != nil {
		logger.Warn(ctx, "vision captioning unavailable", zap.Error(err))
	} else {
		vision = visionClient
	}

	retriever := retrieval.New(index, embedder, sparse, retrieval.Config{
		LegacyCollection: cfg.Vector.Collection,
		RerankEnabled:    cfg.Retrieval.RerankEnabled,
		RerankWeight:     float32(cfg.Retrieval.RerankWeight),
		MinDenseScore:    cfg.Retrieval.MinDenseScore,
	}, logger)
	rt := router.New(agents.Classifier(switcher), logger)
	web := websearch.New(websearch.Config{
		APIKey:  cfg.WebSearch.APIKey,
		BaseURL: cfg.WebSearch.BaseURL,
		Timeout: cfg.WebSearch.Timeout,
	})
	topics := thematic.New(cfg.Thematic.CacheDir, cfg.Thematic.SampleSize, clusterSummarizer{switcher}, logger)
	mem := memory.New(memory.DefaultMaxExchanges, memory.DefaultTTL)
	asker := agents.New(rt, switcher, retriever, web, st, topics, mem, logger)

	chat := platform.New(platform.Config{BaseURL: cfg.Platform.BaseURL, Token: cfg.Platform.Token})

	handlers := ingest.NewHandlers(st, indexer, coordinator, ingest.NewHTTPFetcher(), vision, asker, chat, chat, topics, logger)

	consumer, err := q.Consumer("guildsight-worker")
	if err != nil {
		return fmt.Errorf("init consumer: %w", err)
	}
	pool := worker.NewPool(worker.Config{
		Concurrency:     cfg.Worker.Concurrency,
		SoftLimit:       cfg.Worker.SoftLimit,
		HardLimit:       cfg.Worker.HardLimit,
		TasksPerRecycle: cfg.Worker.TasksPerRecycle,
	}, worker.NewQueueSource(consumer), q, logger)
	handlers.Register(pool)

	sweepSpec := "@every " + cfg.Worker.StaleSweepEvery.String()
	if err := coordinator.StartSweeps(ctx, sweepSpec); err != nil {
		return fmt.Errorf("start sweeps: %w", err)
	}
	defer coordinator.StopSweeps()

	logger.Info(ctx, "worker started",
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.String("stream", cfg.Queue.StreamName),
		zap.String("sweep", strings.TrimPrefix(sweepSpec, "@every ")),
	)
	pool.Run(ctx)
	return nil
}

// clusterSummarizer names theme clusters with the completion client.
type clusterSummarizer struct {
	model agents.LLM
}

func (c clusterSummarizer) SummarizeCluster(ctx context.Context, terms, samples []string) (string, error) {
	prompt := fmt.Sprintf(
		"These chat messages cluster around the terms: %s.\n\nSample messages:\n%s\n\nName this discussion theme in one short sentence.",
		strings.Join(terms, ", "), strings.Join(samples, "\n"))
	return c.model.Generate(ctx, llm.Request{Prompt: prompt, MaxTokens: 60, Temperature: 0.2})
}
