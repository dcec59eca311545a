// Package compat talks to OpenAI-compatible servers such as llama.cpp,
// Ollama or vLLM, which is how locally quantized models are usually served.
package compat

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"go-rag-pipeline/provider"
	"go-rag-pipeline/rag"
)

// DefaultBaseURL is the OpenAI-compatible root of a local Ollama server.
const DefaultBaseURL = "http://localhost:11434/v1"

// Config holds the connection settings for a compatible server.
type Config struct {
	BaseURL        string
	APIKey         string // most local servers ignore it
	EmbeddingModel string
	ChatModel      string
	Temperature    float32
	MaxTokens      int
	Retry          provider.RetryPolicy
}

// Client implements both rag.BatchEmbedder and rag.Generator.
type Client struct {
	client *openai.Client
	cfg    Config
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.EmbeddingModel == "" && cfg.ChatModel == "" {
		return nil, fmt.Errorf("compat client needs an embedding or a chat model")
	}
	if cfg.Retry == (provider.RetryPolicy{}) {
		cfg.Retry = provider.DefaultRetryPolicy()
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.BaseURL

	return &Client{
		client: openai.NewClientWithConfig(oc),
		cfg:    cfg,
	}, nil
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if c.cfg.EmbeddingModel == "" {
		return nil, fmt.Errorf("no embedding model configured")
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts provided", rag.ErrInvalidArgument)
	}

	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.cfg.EmbeddingModel),
	}
	resp, err := provider.Do(ctx, c.cfg.Retry, isRateLimitError, func(ctx context.Context) (openai.EmbeddingResponse, error) {
		return c.client.CreateEmbeddings(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		if out[d.Index] != nil {
			return nil, fmt.Errorf("duplicate embedding index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if c.cfg.ChatModel == "" {
		return "", fmt.Errorf("no chat model configured")
	}

	req := openai.ChatCompletionRequest{
		Model: c.cfg.ChatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	resp, err := provider.Do(ctx, c.cfg.Retry, isRateLimitError, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		return c.client.CreateChatCompletion(ctx, req)
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func isRateLimitError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return false
}

var (
	_ rag.BatchEmbedder = (*Client)(nil)
	_ rag.Generator     = (*Client)(nil)
)
