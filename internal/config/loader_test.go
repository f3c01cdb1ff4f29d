package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvToKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"STORE_URL", "store.url"},
		{"SERVER_SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
		{"WORKER_TASKS_PER_RECYCLE", "worker.tasks_per_recycle"},
		{"PORT", "port"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, envToKey(tt.in))
		})
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("STORE_URL", "postgres://localhost:5432/guildsight")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8800, cfg.Server.Port)
	assert.Equal(t, "sessions_hybrid", cfg.Vector.HybridCollection)
	assert.Equal(t, "local", cfg.Embeddings.Provider)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 10*time.Minute, cfg.Worker.HardLimit)
	assert.Equal(t, 0.6, cfg.Retrieval.RerankWeight)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  url: postgres://filehost/db\nserver:\n  port: 9000\n"), 0o600))

	t.Setenv("SERVER_PORT", "9100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "postgres://filehost/db", cfg.Store.URL)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing store url", func(c *Config) { c.Store.URL = "" }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"bad embeddings provider", func(c *Config) { c.Embeddings.Provider = "cohere" }},
		{"bad llm provider", func(c *Config) { c.LLM.Provider = "mistral" }},
		{"hard limit below soft", func(c *Config) { c.Worker.SoftLimit = time.Hour; c.Worker.HardLimit = time.Minute }},
		{"rerank weight out of range", func(c *Config) { c.Retrieval.RerankWeight = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			applyDefaults(cfg)
			cfg.Store.URL = "postgres://localhost/db"
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
