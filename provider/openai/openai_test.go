package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-rag-pipeline/provider"
	"go-rag-pipeline/rag"
)

var fastRetry = provider.RetryPolicy{MaxRetries: 2, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond}

// fakeAPI serves the two endpoints the clients use.
func fakeAPI(t *testing.T, rateLimitFirst int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if int(n) <= rateLimitFirst {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			return
		}

		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")

		switch {
		case strings.HasSuffix(r.URL.Path, "/embeddings"):
			inputs, _ := body["input"].([]any)
			// answer in reverse order to check index handling
			data := make([]map[string]any, 0, len(inputs))
			for i := len(inputs) - 1; i >= 0; i-- {
				s, _ := inputs[i].(string)
				data = append(data, map[string]any{
					"object":    "embedding",
					"index":     i,
					"embedding": []float64{float64(len(s)), 1},
				})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"object": "list",
				"data":   data,
				"model":  body["model"],
				"usage":  map[string]any{"prompt_tokens": 1, "total_tokens": 1},
			})
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			msgs, _ := body["messages"].([]any)
			last, _ := msgs[len(msgs)-1].(map[string]any)
			content, _ := last["content"].(string)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion",
				"created": 1,
				"model":   body["model"],
				"choices": []map[string]any{{
					"index":         0,
					"finish_reason": "stop",
					"message": map[string]any{
						"role":    "assistant",
						"content": "echo: " + content,
					},
				}},
				"usage": map[string]any{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestNewEmbedder_RequiresKey(t *testing.T) {
	_, err := NewEmbedder("")
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)

	_, err = NewGenerator("")
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)
}

func TestNewEmbedder_OptionsOverrideDefaults(t *testing.T) {
	e, err := NewEmbedder("dummy-key", WithModel("custom-model"), WithDimension(42))
	require.NoError(t, err)
	assert.Equal(t, "custom-model", e.ModelName())
	assert.Equal(t, 42, e.Dimension())
}

func TestEmbedder_EmbedBatchKeepsInputOrder(t *testing.T) {
	srv, _ := fakeAPI(t, 0)
	e, err := NewEmbedder("test", WithBaseURL(srv.URL+"/"), WithRetryPolicy(fastRetry))
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "bbb", "cc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, []float32{1, 1}, vecs[0])
	assert.Equal(t, []float32{3, 1}, vecs[1])
	assert.Equal(t, []float32{2, 1}, vecs[2])
}

func TestEmbedder_RetriesRateLimit(t *testing.T) {
	srv, calls := fakeAPI(t, 2)
	e, err := NewEmbedder("test", WithBaseURL(srv.URL+"/"), WithRetryPolicy(fastRetry))
	require.NoError(t, err)

	v, err := e.Embed(context.Background(), "four")
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 1}, v)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbedder_GivesUpAfterRetries(t *testing.T) {
	srv, _ := fakeAPI(t, 10)
	e, err := NewEmbedder("test", WithBaseURL(srv.URL+"/"), WithRetryPolicy(fastRetry))
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, provider.ErrMaxRetriesExceeded)
}

func TestEmbedder_EmptyBatch(t *testing.T) {
	e, err := NewEmbedder("test")
	require.NoError(t, err)

	_, err = e.EmbedBatch(context.Background(), nil)
	assert.ErrorIs(t, err, rag.ErrInvalidArgument)
}

func TestEmbedder_SplitsLargeBatches(t *testing.T) {
	srv, calls := fakeAPI(t, 0)
	e, err := NewEmbedder("test", WithBaseURL(srv.URL+"/"), WithRetryPolicy(fastRetry))
	require.NoError(t, err)

	texts := make([]string, 2*MaxBatchSize+5)
	for i := range texts {
		texts[i] = strings.Repeat("x", i%7+1)
	}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	assert.Equal(t, int32(3), calls.Load())
	for i, v := range vecs {
		assert.Equal(t, float32(len(texts[i])), v[0], "vector %d", i)
	}
}

func TestEmbedder_RejectsDuplicateIndices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  "m",
			"data": []map[string]any{
				{"object": "embedding", "index": 0, "embedding": []float64{1}},
				{"object": "embedding", "index": 0, "embedding": []float64{2}},
			},
			"usage": map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(srv.Close)

	e, err := NewEmbedder("test", WithBaseURL(srv.URL+"/"), WithRetryPolicy(fastRetry))
	require.NoError(t, err)
	_, err = e.EmbedBatch(context.Background(), []string{"a", "b"})
	assert.ErrorContains(t, err, "duplicate embedding index 0")
}

func TestGenerator_Generate(t *testing.T) {
	srv, _ := fakeAPI(t, 0)
	g, err := NewGenerator("test",
		WithBaseURL(srv.URL+"/"),
		WithRetryPolicy(fastRetry),
		WithModel("gpt-test"),
		WithSystemPrompt("be brief"),
		WithMaxTokens(64),
	)
	require.NoError(t, err)
	assert.Equal(t, "gpt-test", g.ModelName())

	out, err := g.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", out)
}
