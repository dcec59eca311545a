// Package openai implements rag.Embedder and rag.Generator on the OpenAI API.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"go-rag-pipeline/provider"
	"go-rag-pipeline/rag"
)

const (
	// DefaultEmbeddingModel is used when no model is configured.
	DefaultEmbeddingModel = "text-embedding-3-small"
	// DefaultEmbeddingDimension is the native size of DefaultEmbeddingModel.
	DefaultEmbeddingDimension = 1536
	// MaxBatchSize is the largest input list sent in one request.
	MaxBatchSize = 100
)

// ErrAPIKeyNotSet is returned when no API key is configured.
var ErrAPIKeyNotSet = errors.New("OpenAI API key not set: please set OPENAI_API_KEY")

type options struct {
	model       string
	dimension   int
	baseURL     string
	retry       provider.RetryPolicy
	temperature float64
	maxTokens   int
	system      string
}

// Option configures an Embedder or Generator.
type Option func(*options)

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(o *options) {
		o.model = model
	}
}

// WithDimension asks the API for shortened embeddings.
func WithDimension(dimension int) Option {
	return func(o *options) {
		o.dimension = dimension
	}
}

// WithBaseURL points the client at another endpoint, e.g. a proxy.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = url
	}
}

// WithRetryPolicy replaces the rate-limit retry policy.
func WithRetryPolicy(p provider.RetryPolicy) Option {
	return func(o *options) {
		o.retry = p
	}
}

func newClient(apiKey string, o options) openai.Client {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// retries on 429 are handled by provider.Do
		option.WithMaxRetries(0),
	}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}
	return openai.NewClient(reqOpts...)
}

// Embedder turns text into vectors with the embeddings endpoint.
type Embedder struct {
	client    openai.Client
	model     string
	dimension int
	retry     provider.RetryPolicy
}

func NewEmbedder(apiKey string, opts ...Option) (*Embedder, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	o := options{
		model:     DefaultEmbeddingModel,
		dimension: DefaultEmbeddingDimension,
		retry:     provider.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Embedder{
		client:    newClient(apiKey, o),
		model:     o.model,
		dimension: o.dimension,
		retry:     o.retry,
	}, nil
}

// Embed returns the embedding of a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in requests of at most MaxBatchSize inputs.
// Vectors come back in input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts provided", rag.ErrInvalidArgument)
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(texts))
		vecs, err := e.embedRequest(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *Embedder) embedRequest(ctx context.Context, texts []string) ([][]float32, error) {

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	}
	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := provider.Do(ctx, e.retry, isRateLimitError, func(ctx context.Context) (*openai.CreateEmbeddingResponse, error) {
		return e.client.Embeddings.New(ctx, params)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		if out[d.Index] != nil {
			return nil, fmt.Errorf("duplicate embedding index %d", d.Index)
		}
		v := make([]float32, len(d.Embedding))
		for i, x := range d.Embedding {
			v[i] = float32(x)
		}
		out[d.Index] = v
	}
	return out, nil
}

func (e *Embedder) ModelName() string {
	return e.model
}

func (e *Embedder) Dimension() int {
	return e.dimension
}

func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

var _ rag.BatchEmbedder = (*Embedder)(nil)
