// Guildsight is the community intelligence API server.
//
// This binary serves the query and admin HTTP surface: ask, classify,
// chat, search, summaries, tenant administration, and runtime provider
// settings. Ingest and queued work run in their own binaries.
//
// Configuration comes from an optional YAML file plus environment
// variables. See internal/config for the full key list.
//
// Usage:
//
//	# Start with defaults
//	guildsight
//
//	# Configure via file and environment
//	STORE_URL=postgres://... guildsight -config /etc/guildsight/config.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/kestrelworks/guildsight/internal/agents"
	"github.com/kestrelworks/guildsight/internal/config"
	"github.com/kestrelworks/guildsight/internal/consistency"
	"github.com/kestrelworks/guildsight/internal/embeddings"
	api "github.com/kestrelworks/guildsight/internal/http"
	"github.com/kestrelworks/guildsight/internal/llm"
	"github.com/kestrelworks/guildsight/internal/logging"
	"github.com/kestrelworks/guildsight/internal/memory"
	"github.com/kestrelworks/guildsight/internal/queue"
	"github.com/kestrelworks/guildsight/internal/retrieval"
	"github.com/kestrelworks/guildsight/internal/router"
	"github.com/kestrelworks/guildsight/internal/store"
	"github.com/kestrelworks/guildsight/internal/thematic"
	"github.com/kestrelworks/guildsight/internal/vectorindex"
	"github.com/kestrelworks/guildsight/internal/websearch"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  guildsight           Start the API server\n")
			fmt.Fprintf(os.Stderr, "  guildsight version   Show version information\n")
			os.Exit(1)
		}
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
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("guildsight\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires every dependency and blocks until ctx is cancelled.
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
	api.Version = version

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
	topics := thematic.New(cfg.Thematic.CacheDir, cfg.Thematic.SampleSize, nil, logger)
	coordinator := consistency.New(st, index, q, logger)
	mem := memory.New(memory.DefaultMaxExchanges, memory.DefaultTTL)

	svc := agents.New(rt, switcher, retriever, web, st, topics, mem, logger)

	srv, err := api.NewServer(api.Deps{
		Asker:    svc,
		Router:   rt,
		Searcher: retriever,
		Topics:   topics,
		Health:   coordinator,
		Queue:    q,
		Provider: switcher,
		Store:    st,
	}, cfg.Server, logger)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
