package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"

	return newClient(openai.NewClientWithConfig(cfg), "gpt-4", "text-embedding-3-large", 0.2, 256)
}

func TestCompleteReturnsContentAndUsage(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "cmpl-1",
			"object": "chat.completion",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "an answer"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`)
	})

	resp, err := c.Complete(context.Background(), CompletionRequest{
		SystemPrompt: "be helpful",
		UserPrompt:   "a question",
	})
	require.NoError(t, err)

	assert.Equal(t, "an answer", resp.Content)
	assert.Equal(t, 12, resp.Usage.PromptTokens)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestCompleteEmptyChoicesIsAnErrorNotAPanic(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "cmpl-1",
			"object": "chat.completion",
			"choices": [],
			"usage": {"prompt_tokens": 12, "completion_tokens": 0, "total_tokens": 12}
		}`)
	})

	_, err := c.Complete(context.Background(), CompletionRequest{
		SystemPrompt: "be helpful",
		UserPrompt:   "a question",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestGenerateEmbedding(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"object": "list",
			"data": [{"object": "embedding", "index": 0, "embedding": [0.1, 0.2, 0.3]}]
		}`)
	})

	embedding, err := c.GenerateEmbedding(context.Background(), "some text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, embedding)
}
