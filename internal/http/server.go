// Package http is the query and admin surface: ask, classify, chat,
// search, summaries, tenant administration, and runtime provider settings.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kestrelworks/guildsight/internal/agents"
	"github.com/kestrelworks/guildsight/internal/config"
	"github.com/kestrelworks/guildsight/internal/llm"
	"github.com/kestrelworks/guildsight/internal/logging"
	"github.com/kestrelworks/guildsight/internal/queue"
	"github.com/kestrelworks/guildsight/internal/retrieval"
	"github.com/kestrelworks/guildsight/internal/router"
	"github.com/kestrelworks/guildsight/internal/store"
	"github.com/kestrelworks/guildsight/internal/thematic"
)

// Version is stamped by the build; the default marks a dev binary.
var Version = "dev"

// Asker answers questions through the router pipeline.
type Asker interface {
	Ask(ctx context.Context, req agents.Request) (*agents.Answer, error)
}

// IntentRouter classifies a query.
type IntentRouter interface {
	Route(ctx context.Context, query string) (router.Intent, bool)
}

// Searcher runs hybrid retrieval.
type Searcher interface {
	Search(ctx context.Context, p retrieval.Params) ([]retrieval.Result, error)
}

// Topics serves the cached theme analysis.
type Topics interface {
	Cached(tenantID int64) (*thematic.Analysis, error)
}

// HealthReporter projects a tenant's store/index sync state.
type HealthReporter interface {
	Health(ctx context.Context, tenantID int64) (*store.SyncHealth, error)
}

// Enqueuer publishes operator-triggered work.
type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task) error
	EnqueueWithPriority(ctx context.Context, task queue.Task, p queue.Priority) error
}

// Provider exposes the switchable completion client.
type Provider interface {
	Client() *llm.Client
	Apply(ctx context.Context, ov llm.Overrides) error
}

// AdminStore is the relational surface the API reads and administers.
type AdminStore interface {
	Ping(ctx context.Context) error
	Channels(ctx context.Context, tenantID int64) ([]store.Channel, error)
	SetChannelIndexed(ctx context.Context, tenantID, channelID int64, indexed bool) error
	GetTenantStats(ctx context.Context, tenantID int64) (*store.TenantStats, error)
	MessageTimeseries(ctx context.Context, tenantID int64, days int) ([]store.DayCount, error)
	TopChannels(ctx context.Context, tenantID int64, limit int) ([]store.ChannelCount, error)
	GetDirective(ctx context.Context, tenantID int64) (string, error)
	SetDirective(ctx context.Context, tenantID int64, directive string) error
	GetSetting(ctx context.Context, key string) (string, error)
	PutSetting(ctx context.Context, key, value string) error
	MessagesSince(ctx context.Context, tenantID, channelID int64, since time.Time) ([]store.Message, error)
	InsertDMMessage(ctx context.Context, m store.DMMessage) error
	RecentDMMessages(ctx context.Context, userID int64, n int) ([]store.DMMessage, error)
}

// Deps carries everything the server serves from.
type Deps struct {
	Asker    Asker
	Router   IntentRouter
	Searcher Searcher
	Topics   Topics
	Health   HealthReporter
	Queue    Enqueuer
	Provider Provider
	Store    AdminStore
}

// Server is the HTTP API runtime.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	cfg    config.ServerConfig
	logger *logging.Logger
}

// NewServer builds the server with routing and middleware in place.
func NewServer(deps Deps, cfg config.ServerConfig, logger *logging.Logger) (*Server, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("http: store is required")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestMetrics())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{echo: e, deps: deps, cfg: cfg, logger: logger.Named("http")}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/ask", s.handleAsk)
	v1.POST("/classify", s.handleClassify)
	v1.POST("/chat", s.handleChat)
	v1.POST("/search", s.handleSearch)
	v1.POST("/summary", s.handleSummary)

	tenants := v1.Group("/tenants/:id", tenantScope)
	tenants.GET("/health", s.handleTenantHealth)
	tenants.GET("/channels", s.handleChannels)
	tenants.PATCH("/channels/:cid/index", s.handleChannelIndex)
	tenants.GET("/stats", s.handleStats)
	tenants.GET("/stats/timeseries", s.handleTimeseries)
	tenants.GET("/stats/top-channels", s.handleTopChannels)
	tenants.GET("/topics", s.handleTopics)
	tenants.POST("/topics/rebuild", s.handleTopicsRebuild)
	tenants.GET("/personality-directive", s.handleGetDirective)
	tenants.PUT("/personality-directive", s.handlePutDirective)
	tenants.DELETE("", s.handleForgetTenant)

	settings := v1.Group("/settings")
	settings.GET("/provider", s.handleGetProvider)
	settings.PUT("/provider", s.handlePutProvider)
	settings.GET("/api-keys", s.handleGetAPIKeys)
	settings.PUT("/api-keys", s.handlePutAPIKeys)
}

// handleHealth reports liveness plus a store ping.
func (s *Server) handleHealth(c echo.Context) error {
	status := "ok"
	if err := s.deps.Store.Ping(c.Request().Context()); err != nil {
		status = "degraded"
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: status, Version: Version})
}

// Start blocks serving until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
