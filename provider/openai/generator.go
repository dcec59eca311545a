package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"go-rag-pipeline/provider"
	"go-rag-pipeline/rag"
)

const (
	DefaultChatModel   = "gpt-4o-mini"
	DefaultTimeout     = 60 * time.Second
	DefaultTemperature = 0.2
)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *options) {
		o.temperature = t
	}
}

// WithMaxTokens caps the completion length; 0 leaves it to the model.
func WithMaxTokens(n int) Option {
	return func(o *options) {
		o.maxTokens = n
	}
}

// WithSystemPrompt prepends a system message to every request.
func WithSystemPrompt(s string) Option {
	return func(o *options) {
		o.system = s
	}
}

// Generator answers prompts with the chat completions endpoint.
type Generator struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
	system      string
	retry       provider.RetryPolicy
	timeout     time.Duration
}

func NewGenerator(apiKey string, opts ...Option) (*Generator, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	o := options{
		model:       DefaultChatModel,
		temperature: DefaultTemperature,
		retry:       provider.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Generator{
		client:      newClient(apiKey, o),
		model:       o.model,
		temperature: o.temperature,
		maxTokens:   o.maxTokens,
		system:      o.system,
		retry:       o.retry,
		timeout:     DefaultTimeout,
	}, nil
}

// SetTimeout bounds one Generate call including retries.
func (g *Generator) SetTimeout(d time.Duration) {
	g.timeout = d
}

func (g *Generator) ModelName() string {
	return g.model
}

func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if g.system != "" {
		messages = append(messages, openai.SystemMessage(g.system))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(g.model),
		Messages:    messages,
		Temperature: openai.Float(g.temperature),
	}
	if g.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(g.maxTokens))
	}

	completion, err := provider.Do(ctx, g.retry, isRateLimitError, func(ctx context.Context) (*openai.ChatCompletion, error) {
		return g.client.Chat.Completions.New(ctx, params)
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}
	return completion.Choices[0].Message.Content, nil
}

var _ rag.Generator = (*Generator)(nil)
