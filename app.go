package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"go-rag-pipeline/cache"
	"go-rag-pipeline/config"
	"go-rag-pipeline/loader"
	"go-rag-pipeline/metrics"
	"go-rag-pipeline/pgstore"
	"go-rag-pipeline/provider/compat"
	oai "go-rag-pipeline/provider/openai"
	"go-rag-pipeline/rag"
)

// App holds every long-lived component built from the configuration.
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	pipeline *rag.Pipeline
	loader   *loader.Loader
	metrics  *metrics.Collector
	closers  []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &App{
		cfg:     cfg,
		logger:  logger,
		loader:  loader.New(loader.WithLogger(logger.Named("loader"))),
		metrics: metrics.New(reg),
	}

	base, model, err := a.buildEmbedder()
	if err != nil {
		return nil, err
	}
	dimension := embeddingDimension(base, cfg.Embedder.Dimension)
	embedder, err := a.wrapCache(ctx, base, cache.Namespace(model, dimension))
	if err != nil {
		a.Close()
		return nil, err
	}

	index, store, err := a.buildIndex(ctx, dimension)
	if err != nil {
		a.Close()
		return nil, err
	}

	chunker, err := buildChunker(cfg.Chunking)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := []rag.PipelineOption{
		rag.WithChunker(chunker),
		rag.WithBatchSize(cfg.Embedder.BatchSize),
		rag.WithLogger(logger.Named("pipeline")),
	}
	gen, err := a.buildGenerator()
	if err != nil {
		a.Close()
		return nil, err
	}
	if gen != nil {
		opts = append(opts, rag.WithGenerator(a.metrics.Generator(gen)))
	}

	a.pipeline = rag.NewPipeline(embedder, a.metrics.Index(index), store, opts...)
	logger.Debug("pipeline ready",
		zap.String("embedder", cfg.Embedder.Provider),
		zap.String("model", model),
		zap.String("index", cfg.Index.Backend),
		zap.String("metric", cfg.Index.Metric),
		zap.String("generator", cfg.Generator.Provider),
	)
	return a, nil
}

func (a *App) buildEmbedder() (rag.Embedder, string, error) {
	c := a.cfg.Embedder
	switch c.Provider {
	case "openai":
		opts := []oai.Option{}
		if c.Model != "" {
			opts = append(opts, oai.WithModel(c.Model))
		}
		if c.Dimension > 0 {
			opts = append(opts, oai.WithDimension(c.Dimension))
		}
		if c.BaseURL != "" {
			opts = append(opts, oai.WithBaseURL(c.BaseURL))
		}
		e, err := oai.NewEmbedder(c.APIKey, opts...)
		if err != nil {
			return nil, "", err
		}
		return e, e.ModelName(), nil
	case "compat":
		e, err := compat.NewClient(compat.Config{
			BaseURL:        c.BaseURL,
			APIKey:         c.APIKey,
			EmbeddingModel: c.Model,
		})
		if err != nil {
			return nil, "", err
		}
		return e, c.Model, nil
	default:
		e := rag.NewHashEmbedder(c.Dimension)
		return e, e.ModelName(), nil
	}
}

func (a *App) wrapCache(ctx context.Context, e rag.Embedder, namespace string) (rag.Embedder, error) {
	var backend cache.Cache
	switch a.cfg.Cache.Backend {
	case "memory":
		backend = cache.NewMemoryCache(a.cfg.Cache.MaxEntries)
	case "redis":
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr: a.cfg.Cache.RedisAddr,
			TTL:  a.cfg.Cache.TTL,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = rc.Close() })
		backend = rc
	default:
		return e, nil
	}
	return cache.NewEmbedder(e, backend, namespace,
		cache.WithObserver(a.metrics.ObserveCache),
		cache.WithLogger(a.logger.Named("cache")),
	), nil
}

// embeddingDimension prefers the size reported by the embedder itself.
func embeddingDimension(e rag.Embedder, configured int) int {
	if d, ok := e.(interface{ Dimension() int }); ok && d.Dimension() > 0 {
		return d.Dimension()
	}
	return configured
}

func (a *App) buildIndex(ctx context.Context, dimension int) (rag.Index, rag.ChunkStore, error) {
	metric, err := rag.ParseMetric(a.cfg.Index.Metric)
	if err != nil {
		return nil, nil, err
	}

	if a.cfg.Index.Backend == "pgvector" {
		s, err := pgstore.Open(ctx, a.cfg.Index.DatabaseURL, dimension,
			pgstore.WithMetric(metric),
			pgstore.WithLogger(a.logger.Named("pgstore")),
		)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, s.Close)
		if err := s.Migrate(ctx); err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}

	idx, store, err := rag.LoadState(a.cfg.Index.DataDir, rag.WithMetric(metric))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load state from %s: %w", a.cfg.Index.DataDir, err)
	}
	if idx.Len() > 0 && idx.Metric() != metric {
		a.logger.Warn("stored index uses a different metric than configured",
			zap.String("stored", string(idx.Metric())),
			zap.String("configured", string(metric)),
		)
	}
	return idx, store, nil
}

func (a *App) buildGenerator() (rag.Generator, error) {
	c := a.cfg.Generator
	switch c.Provider {
	case "openai":
		opts := []oai.Option{oai.WithTemperature(c.Temperature)}
		if c.Model != "" {
			opts = append(opts, oai.WithModel(c.Model))
		}
		if c.BaseURL != "" {
			opts = append(opts, oai.WithBaseURL(c.BaseURL))
		}
		if c.MaxTokens > 0 {
			opts = append(opts, oai.WithMaxTokens(c.MaxTokens))
		}
		g, err := oai.NewGenerator(c.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		g.SetTimeout(c.Timeout)
		return g, nil
	case "compat":
		g, err := compat.NewClient(compat.Config{
			BaseURL:     c.BaseURL,
			APIKey:      c.APIKey,
			ChatModel:   c.Model,
			Temperature: float32(c.Temperature),
			MaxTokens:   c.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, nil
	}
}

func buildChunker(c config.ChunkingConfig) (rag.Chunker, error) {
	if c.Strategy == "token" {
		counter, err := rag.NewTiktokenCounter(c.Encoding)
		if err != nil {
			return nil, err
		}
		return rag.NewTokenChunker(counter, c.MaxTokens, c.Overlap), nil
	}
	return rag.NewSentenceChunker(c.MaxSentences, c.Overlap, c.MaxChars), nil
}

// persist snapshots the in-memory backend; pgvector commits as it goes.
func (a *App) persist() error {
	err := a.pipeline.Save(a.cfg.Index.DataDir)
	if errors.Is(err, rag.ErrSnapshotUnsupported) {
		return nil
	}
	return err
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
