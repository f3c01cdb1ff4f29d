package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for all guildsight binaries.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Store      StoreConfig      `koanf:"store"`
	Vector     VectorConfig     `koanf:"vector"`
	Queue      QueueConfig      `koanf:"queue"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	LLM        LLMConfig        `koanf:"llm"`
	Vision     VisionConfig     `koanf:"vision"`
	WebSearch  WebSearchConfig  `koanf:"websearch"`
	Platform   PlatformConfig   `koanf:"platform"`
	Worker     WorkerConfig     `koanf:"worker"`
	Retrieval  RetrievalConfig  `koanf:"retrieval"`
	Thematic   ThematicConfig   `koanf:"thematic"`
	Overrides  OverridesConfig  `koanf:"overrides"`
}

// ServerConfig controls the HTTP API listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StoreConfig holds the relational store connection settings. ReadOnlyURL
// points at a read replica used exclusively by the analytics path; when
// empty, URL is used for reads too.
type StoreConfig struct {
	URL         string `koanf:"url"`
	ReadOnlyURL string `koanf:"readonly_url"`
	MaxConns    int32  `koanf:"max_conns"`
}

// VectorConfig holds the vector index connection settings.
type VectorConfig struct {
	Host              string `koanf:"host"`
	Port              int    `koanf:"port"`
	APIKey            string `koanf:"api_key"`
	UseTLS            bool   `koanf:"use_tls"`
	Collection        string `koanf:"collection"`
	HybridCollection  string `koanf:"hybrid_collection"`
	DMCollection      string `koanf:"dm_collection"`
	VectorSize        uint64 `koanf:"vector_size"`
}

// QueueConfig holds the queue broker settings.
type QueueConfig struct {
	URL        string `koanf:"url"`
	StreamName string `koanf:"stream_name"`
}

// EmbeddingsConfig selects the dense embedding provider.
// Provider is one of "local", "openai", "googleai".
type EmbeddingsConfig struct {
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	CacheDir string `koanf:"cache_dir"`
}

// LLMConfig selects the answer-generation provider. APIKeys is keyed by
// provider name so operators can pre-provision keys for runtime switching.
type LLMConfig struct {
	Provider string            `koanf:"provider"`
	Model    string            `koanf:"model"`
	APIKeys  map[string]string `koanf:"api_keys"`
	Thinking ThinkingConfig    `koanf:"thinking"`
}

// ThinkingConfig controls extended-reasoning options on providers that
// support them.
type ThinkingConfig struct {
	Enabled      bool   `koanf:"enabled"`
	Effort       string `koanf:"effort"`
	BudgetTokens int    `koanf:"budget_tokens"`
}

// VisionConfig selects the image-captioning provider.
type VisionConfig struct {
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
}

// WebSearchConfig holds the external search adapter settings.
type WebSearchConfig struct {
	APIKey  string        `koanf:"api_key"`
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
}

// PlatformConfig holds the chat-platform credentials and the gateway
// listener settings. BaseURL points at the platform's REST API; the
// webhook secret authenticates inbound event deliveries.
type PlatformConfig struct {
	Token         string `koanf:"token"`
	BaseURL       string `koanf:"base_url"`
	ListenAddr    string `koanf:"listen_addr"`
	WebhookSecret string `koanf:"webhook_secret"`
	RespondToBots bool   `koanf:"respond_to_bots"`
	IndexBotPosts bool   `koanf:"index_bot_posts"`
}

// WorkerConfig controls the queue consumer runtime.
type WorkerConfig struct {
	Concurrency       int           `koanf:"concurrency"`
	SoftLimit         time.Duration `koanf:"soft_limit"`
	HardLimit         time.Duration `koanf:"hard_limit"`
	TasksPerRecycle   int           `koanf:"tasks_per_recycle"`
	StaleSweepEvery   time.Duration `koanf:"stale_sweep_every"`
}

// RetrievalConfig tunes hybrid search.
type RetrievalConfig struct {
	RerankEnabled bool    `koanf:"rerank_enabled"`
	RerankWeight  float64 `koanf:"rerank_weight"`
	MinDenseScore float32 `koanf:"min_dense_score"`
}

// ThematicConfig tunes the topic cluster cache.
type ThematicConfig struct {
	CacheDir   string `koanf:"cache_dir"`
	SampleSize int    `koanf:"sample_size"`
}

// OverridesConfig locates the hot-reloaded provider override file.
type OverridesConfig struct {
	Path string `koanf:"path"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Store.URL == "" {
		return fmt.Errorf("store url is required")
	}
	if c.Vector.Host == "" {
		return fmt.Errorf("vector host is required")
	}
	if c.Vector.VectorSize == 0 {
		return fmt.Errorf("vector size must be > 0")
	}
	switch c.Embeddings.Provider {
	case "local", "openai", "googleai":
	default:
		return fmt.Errorf("embeddings provider must be local, openai, or googleai, got %q", c.Embeddings.Provider)
	}
	switch c.LLM.Provider {
	case "openai", "anthropic", "googleai":
	default:
		return fmt.Errorf("llm provider must be openai, anthropic, or googleai, got %q", c.LLM.Provider)
	}
	switch c.LLM.Thinking.Effort {
	case "", "low", "med", "high":
	default:
		return fmt.Errorf("thinking effort must be low, med, or high, got %q", c.LLM.Thinking.Effort)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker concurrency must be >= 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.HardLimit < c.Worker.SoftLimit {
		return fmt.Errorf("worker hard limit must be >= soft limit")
	}
	if c.Retrieval.RerankWeight < 0 || c.Retrieval.RerankWeight > 1 {
		return fmt.Errorf("rerank weight must be in [0,1], got %f", c.Retrieval.RerankWeight)
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8800
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Store.MaxConns == 0 {
		cfg.Store.MaxConns = 10
	}
	if cfg.Vector.Host == "" {
		cfg.Vector.Host = "localhost"
	}
	if cfg.Vector.Port == 0 {
		cfg.Vector.Port = 6334
	}
	if cfg.Vector.Collection == "" {
		cfg.Vector.Collection = "sessions"
	}
	if cfg.Vector.HybridCollection == "" {
		cfg.Vector.HybridCollection = "sessions_hybrid"
	}
	if cfg.Vector.DMCollection == "" {
		cfg.Vector.DMCollection = "dm_memory"
	}
	if cfg.Vector.VectorSize == 0 {
		cfg.Vector.VectorSize = 384 // bge-small-en-v1.5 dimensions
	}
	if cfg.Queue.URL == "" {
		cfg.Queue.URL = "nats://localhost:4222"
	}
	if cfg.Queue.StreamName == "" {
		cfg.Queue.StreamName = "GUILDSIGHT_TASKS"
	}
	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "local"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.Thinking.Effort == "" {
		cfg.LLM.Thinking.Effort = "med"
	}
	if cfg.WebSearch.BaseURL == "" {
		cfg.WebSearch.BaseURL = "https://api.tavily.com"
	}
	if cfg.WebSearch.Timeout == 0 {
		cfg.WebSearch.Timeout = 15 * time.Second
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 4
	}
	if cfg.Worker.SoftLimit == 0 {
		cfg.Worker.SoftLimit = 5 * time.Minute
	}
	if cfg.Worker.HardLimit == 0 {
		cfg.Worker.HardLimit = 10 * time.Minute
	}
	if cfg.Worker.TasksPerRecycle == 0 {
		cfg.Worker.TasksPerRecycle = 1000
	}
	if cfg.Worker.StaleSweepEvery == 0 {
		cfg.Worker.StaleSweepEvery = 10 * time.Minute
	}
	if cfg.Retrieval.RerankWeight == 0 {
		cfg.Retrieval.RerankWeight = 0.6
	}
	if cfg.Retrieval.MinDenseScore == 0 {
		cfg.Retrieval.MinDenseScore = 0.2
	}
	if cfg.Thematic.SampleSize == 0 {
		cfg.Thematic.SampleSize = 5000
	}
	if cfg.Thematic.CacheDir == "" {
		cfg.Thematic.CacheDir = "/var/lib/guildsight/themes"
	}
	if cfg.Overrides.Path == "" {
		cfg.Overrides.Path = "/var/lib/guildsight/overrides.json"
	}
	if cfg.Platform.ListenAddr == "" {
		cfg.Platform.ListenAddr = ":8810"
	}
}
