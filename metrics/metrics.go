// Package metrics exposes Prometheus instrumentation for the pipeline.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go-rag-pipeline/rag"
)

const namespace = "rag"

// Query results.
const (
	ResultOK    = "ok"
	ResultEmpty = "empty"
	ResultError = "error"
)

// Collector owns every metric of the process. Use a fresh registry per
// Collector in tests.
type Collector struct {
	gatherer prometheus.Gatherer

	inserts           prometheus.Counter
	queries           *prometheus.CounterVec
	queryLatency      prometheus.Histogram
	generations       *prometheus.CounterVec
	generationLatency prometheus.Histogram
	cacheLookups      *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
}

func New(reg *prometheus.Registry) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		gatherer: reg,
		inserts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_inserts_total",
			Help:      "Vectors inserted into the index.",
		}),
		queries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_queries_total",
			Help:      "Nearest-neighbor queries by result.",
		}, []string{"result"}),
		queryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_query_duration_seconds",
			Help:      "Latency of nearest-neighbor queries.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		generations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Answer generations by result.",
		}, []string{"result"}),
		generationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Latency of answer generation.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_lookups_total",
			Help:      "Embedding cache lookups by outcome.",
		}, []string{"outcome"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// ObserveCache matches the cache.WithObserver hook.
func (c *Collector) ObserveCache(hit bool) {
	if hit {
		c.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	c.cacheLookups.WithLabelValues("miss").Inc()
}

func (c *Collector) ObserveRequest(route string, code int) {
	c.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// Index instruments idx.
func (c *Collector) Index(idx rag.Index) rag.Index {
	return &instrumentedIndex{next: idx, c: c}
}

// Generator instruments g.
func (c *Collector) Generator(g rag.Generator) rag.Generator {
	return &instrumentedGenerator{next: g, c: c}
}

type instrumentedIndex struct {
	next rag.Index
	c    *Collector
}

func (i *instrumentedIndex) Insert(ctx context.Context, chunkID string, vector []float32) error {
	if err := i.next.Insert(ctx, chunkID, vector); err != nil {
		return err
	}
	i.c.inserts.Inc()
	return nil
}

func (i *instrumentedIndex) Query(ctx context.Context, vector []float32, k int) ([]rag.Match, error) {
	start := time.Now()
	matches, err := i.next.Query(ctx, vector, k)
	i.c.queryLatency.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		i.c.queries.WithLabelValues(ResultOK).Inc()
	case errors.Is(err, rag.ErrEmptyIndex):
		i.c.queries.WithLabelValues(ResultEmpty).Inc()
	default:
		i.c.queries.WithLabelValues(ResultError).Inc()
	}
	return matches, err
}

// Unwrap lets rag.Pipeline.Save reach the underlying index.
func (i *instrumentedIndex) Unwrap() rag.Index {
	return i.next
}

type instrumentedGenerator struct {
	next rag.Generator
	c    *Collector
}

func (g *instrumentedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	out, err := g.next.Generate(ctx, prompt)
	g.c.generationLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		g.c.generations.WithLabelValues(ResultError).Inc()
		return "", err
	}
	g.c.generations.WithLabelValues(ResultOK).Inc()
	return out, nil
}
