// Package config loads application settings from defaults, an optional YAML
// file, an optional .env file and the process environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"go-rag-pipeline/rag"
)

// Config holds the settings of every component.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Generator GeneratorConfig `yaml:"generator"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Index     IndexConfig     `yaml:"index"`
	Cache     CacheConfig     `yaml:"cache"`
	Server    ServerConfig    `yaml:"server"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// EmbedderConfig selects the embedding backend: hash, openai or compat.
type EmbedderConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"` // 0 uses the model's native size
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"-"`
	BatchSize int    `yaml:"batch_size"`
}

// GeneratorConfig selects the answer backend: none, openai or compat.
type GeneratorConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"-"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ChunkingConfig selects sentence or token based splitting.
type ChunkingConfig struct {
	Strategy     string `yaml:"strategy"`
	MaxSentences int    `yaml:"max_sentences"`
	MaxChars     int    `yaml:"max_chars"`
	MaxTokens    int    `yaml:"max_tokens"`
	Overlap      int    `yaml:"overlap"`
	Encoding     string `yaml:"encoding"`
}

// IndexConfig selects memory or pgvector storage.
type IndexConfig struct {
	Backend     string `yaml:"backend"`
	Metric      string `yaml:"metric"`
	DataDir     string `yaml:"data_dir"`
	DatabaseURL string `yaml:"-"`
}

type CacheConfig struct {
	Backend    string        `yaml:"backend"` // none, memory or redis
	MaxEntries int           `yaml:"max_entries"`
	RedisAddr  string        `yaml:"redis_addr"`
	TTL        time.Duration `yaml:"ttl"`
}

type ServerConfig struct {
	Addr          string        `yaml:"addr"`
	MaxUploadSize int64         `yaml:"max_upload_size"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

// Default returns a configuration that runs fully offline.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "console"},
		Embedder: EmbedderConfig{
			Provider:  "hash",
			BatchSize: rag.DefaultBatchSize,
		},
		Generator: GeneratorConfig{
			Provider:    "none",
			Temperature: 0.2,
			Timeout:     60 * time.Second,
		},
		Chunking: ChunkingConfig{
			Strategy:     "sentence",
			MaxSentences: 3,
			MaxTokens:    256,
			Encoding:     "cl100k_base",
		},
		Index: IndexConfig{
			Backend: "memory",
			Metric:  string(rag.MetricL2),
			DataDir: "data",
		},
		Cache: CacheConfig{
			Backend:    "none",
			MaxEntries: 10000,
			TTL:        24 * time.Hour,
		},
		Server: ServerConfig{
			Addr:          ":8080",
			MaxUploadSize: 10 << 20,
			ReadTimeout:   15 * time.Second,
			WriteTimeout:  120 * time.Second,
		},
		Retrieval: RetrievalConfig{TopK: rag.DefaultTopK},
	}
}

// Load builds the configuration. Missing files are not an error, so the
// program can run from the environment alone.
func Load(path, envFilePath string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Log.Level = getEnv("RAG_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("RAG_LOG_FORMAT", c.Log.Format)

	c.Embedder.Provider = getEnv("RAG_EMBEDDER", c.Embedder.Provider)
	c.Embedder.Model = getEnv("RAG_EMBEDDING_MODEL", c.Embedder.Model)
	c.Embedder.Dimension = getEnvAsInt("RAG_EMBEDDING_DIMENSION", c.Embedder.Dimension)
	c.Embedder.BaseURL = getEnv("RAG_EMBEDDER_BASE_URL", c.Embedder.BaseURL)
	c.Embedder.APIKey = getEnv("OPENAI_API_KEY", c.Embedder.APIKey)

	c.Generator.Provider = getEnv("RAG_GENERATOR", c.Generator.Provider)
	c.Generator.Model = getEnv("RAG_GENERATOR_MODEL", c.Generator.Model)
	c.Generator.BaseURL = getEnv("RAG_GENERATOR_BASE_URL", c.Generator.BaseURL)
	c.Generator.APIKey = getEnv("OPENAI_API_KEY", c.Generator.APIKey)
	c.Generator.Temperature = getEnvAsFloat("RAG_GENERATOR_TEMPERATURE", c.Generator.Temperature)

	c.Index.Backend = getEnv("RAG_INDEX_BACKEND", c.Index.Backend)
	c.Index.Metric = getEnv("RAG_METRIC", c.Index.Metric)
	c.Index.DataDir = getEnv("RAG_DATA_DIR", c.Index.DataDir)
	c.Index.DatabaseURL = getEnv("DATABASE_URL", c.Index.DatabaseURL)

	c.Cache.Backend = getEnv("RAG_CACHE", c.Cache.Backend)
	c.Cache.RedisAddr = getEnv("REDIS_ADDR", c.Cache.RedisAddr)

	c.Server.Addr = getEnv("RAG_ADDR", c.Server.Addr)
	c.Retrieval.TopK = getEnvAsInt("RAG_TOP_K", c.Retrieval.TopK)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Embedder.Provider {
	case "hash", "openai", "compat":
	default:
		return fmt.Errorf("unknown embedder provider %q", c.Embedder.Provider)
	}
	if c.Embedder.Dimension < 0 {
		return fmt.Errorf("embedding dimension must not be negative, got %d", c.Embedder.Dimension)
	}
	if c.Embedder.Provider == "compat" && c.Embedder.Model == "" {
		return fmt.Errorf("compat embedder needs a model")
	}

	switch c.Generator.Provider {
	case "none", "openai", "compat":
	default:
		return fmt.Errorf("unknown generator provider %q", c.Generator.Provider)
	}
	if c.Generator.Provider == "compat" && c.Generator.Model == "" {
		return fmt.Errorf("compat generator needs a model")
	}

	switch c.Chunking.Strategy {
	case "sentence":
		if c.Chunking.MaxSentences <= 0 {
			return fmt.Errorf("chunking.max_sentences must be positive")
		}
	case "token":
		if c.Chunking.MaxTokens <= 0 {
			return fmt.Errorf("chunking.max_tokens must be positive")
		}
	default:
		return fmt.Errorf("unknown chunking strategy %q", c.Chunking.Strategy)
	}
	if c.Chunking.Overlap < 0 {
		return fmt.Errorf("chunking.overlap must not be negative")
	}

	if _, err := rag.ParseMetric(c.Index.Metric); err != nil {
		return err
	}
	switch c.Index.Backend {
	case "memory":
	case "pgvector":
		if c.Index.DatabaseURL == "" {
			return fmt.Errorf("pgvector backend requires DATABASE_URL")
		}
		if c.Embedder.Provider == "compat" && c.Embedder.Dimension <= 0 {
			return fmt.Errorf("pgvector backend with a compat embedder requires embedder.dimension")
		}
	default:
		return fmt.Errorf("unknown index backend %q", c.Index.Backend)
	}

	switch c.Cache.Backend {
	case "none", "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("redis cache requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}

	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
