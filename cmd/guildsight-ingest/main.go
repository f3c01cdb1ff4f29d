// Guildsight-ingest is the platform gateway. It receives signed webhook
// event deliveries from the chat platform, records messages in the store,
// and enqueues indexing work once channels go quiet.
//
// Usage:
//
//	PLATFORM_WEBHOOK_SECRET=... guildsight-ingest -config /etc/guildsight/config.yaml
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
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/kestrelworks/guildsight/internal/config"
	"github.com/kestrelworks/guildsight/internal/consistency"
	"github.com/kestrelworks/guildsight/internal/ingest"
	"github.com/kestrelworks/guildsight/internal/logging"
	"github.com/kestrelworks/guildsight/internal/platform"
	"github.com/kestrelworks/guildsight/internal/queue"
	"github.com/kestrelworks/guildsight/internal/sessionizer"
	"github.com/kestrelworks/guildsight/internal/store"
	"github.com/kestrelworks/guildsight/internal/vectorindex"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 && args[0] == "version" {
		fmt.Printf("guildsight-ingest %s\n", version)
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
		log.Fatalf("Gateway error: %v", err)
	}
	log.Println("Gateway shutdown complete")
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

	q, err := queue.New(queue.Config{URL: cfg.Queue.URL, StreamName: cfg.Queue.StreamName}, logger)
	if err != nil {
		return fmt.Errorf("init queue: %w", err)
	}
	defer q.Close()

	deleter := consistency.New(st, index, q, logger)
	gap := sessionizer.DefaultConfig().Gap
	ing := ingest.New(st, deleter, q, cfg.Platform, gap, logger)
	go ing.Run(ctx)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.POST("/webhook", platform.WebhookHandler(ing, cfg.Platform.WebhookSecret, logger))

	logger.Info(ctx, "gateway started",
		zap.String("addr", cfg.Platform.ListenAddr),
		zap.Duration("session_gap", gap),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- e.Start(cfg.Platform.ListenAddr) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
