package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, "hash", cfg.Embedder.Provider)
	assert.Equal(t, "memory", cfg.Index.Backend)
	assert.Equal(t, "l2", cfg.Index.Metric)
	assert.Equal(t, 4, cfg.Retrieval.TopK)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFilesAreIgnored(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "nope.yaml"), filepath.Join(dir, ".env"))
	assert.NoError(t, err)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "rag.yaml", `
log:
  level: debug
  format: json
embedder:
  provider: compat
  model: nomic-embed-text
  dimension: 768
  base_url: http://localhost:11434/v1
chunking:
  strategy: token
  max_tokens: 128
  overlap: 16
index:
  metric: cosine
cache:
  backend: memory
  ttl: 1h
server:
  addr: ":9090"
  read_timeout: 5s
retrieval:
  top_k: 8
`)
	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "compat", cfg.Embedder.Provider)
	assert.Equal(t, 768, cfg.Embedder.Dimension)
	assert.Equal(t, "token", cfg.Chunking.Strategy)
	assert.Equal(t, 16, cfg.Chunking.Overlap)
	assert.Equal(t, "cosine", cfg.Index.Metric)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 8, cfg.Retrieval.TopK)
	// untouched keys keep their defaults
	assert.Equal(t, "memory", cfg.Index.Backend)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeFile(t, "bad.yaml", "log: [unterminated")
	_, err := Load(path, "")
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "rag.yaml", "retrieval:\n  top_k: 8\n")
	envFile := writeFile(t, ".env", "RAG_METRIC=cosine\n")
	t.Setenv("RAG_TOP_K", "2")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("DATABASE_URL", "postgres://localhost/rag")
	// godotenv sets variables process-wide
	t.Cleanup(func() { _ = os.Unsetenv("RAG_METRIC") })

	cfg, err := Load(path, envFile)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Retrieval.TopK)
	assert.Equal(t, "cosine", cfg.Index.Metric)
	assert.Equal(t, "sk-test", cfg.Embedder.APIKey)
	assert.Equal(t, "sk-test", cfg.Generator.APIKey)
	assert.Equal(t, "postgres://localhost/rag", cfg.Index.DatabaseURL)
}

func TestLoad_InvalidEnvNumberKeepsDefault(t *testing.T) {
	t.Setenv("RAG_TOP_K", "many")
	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Retrieval.TopK)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown embedder", func(c *Config) { c.Embedder.Provider = "magic" }},
		{"compat embedder without model", func(c *Config) { c.Embedder.Provider = "compat" }},
		{"unknown generator", func(c *Config) { c.Generator.Provider = "magic" }},
		{"compat generator without model", func(c *Config) { c.Generator.Provider = "compat" }},
		{"unknown strategy", func(c *Config) { c.Chunking.Strategy = "paragraph" }},
		{"zero sentences", func(c *Config) { c.Chunking.MaxSentences = 0 }},
		{"zero tokens", func(c *Config) { c.Chunking.Strategy = "token"; c.Chunking.MaxTokens = 0 }},
		{"negative overlap", func(c *Config) { c.Chunking.Overlap = -1 }},
		{"bad metric", func(c *Config) { c.Index.Metric = "manhattan" }},
		{"unknown backend", func(c *Config) { c.Index.Backend = "faiss" }},
		{"pgvector without url", func(c *Config) { c.Index.Backend = "pgvector" }},
		{"redis without addr", func(c *Config) { c.Cache.Backend = "redis" }},
		{"unknown cache", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"zero top k", func(c *Config) { c.Retrieval.TopK = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
