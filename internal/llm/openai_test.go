package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trainu/coach-inbox/internal/config"
)

func newTestProvider(t *testing.T, h http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	p, err := NewOpenAIProvider(config.LLMConfig{
		APIKey:      "test",
		BaseURL:     srv.URL + "/v1",
		Model:       "gpt-4",
		Temperature: 0.7,
		MaxTokens:   300,
	})
	require.NoError(t, err)
	return p
}

func TestComplete_OK(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)

		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 300, req.MaxTokens)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)

		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Model: "gpt-4",
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Role: "assistant", Content: "Subject: Hi\nBody: Hello"}},
			},
			Usage: openai.Usage{TotalTokens: 42},
		})
	})

	out, err := p.Complete(context.Background(), Request{System: "sys", User: "usr"})
	require.NoError(t, err)
	assert.Equal(t, "Subject: Hi\nBody: Hello", out.Text)
	assert.Equal(t, 42, out.TotalTokens)
}

func TestComplete_RateLimited(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	})

	_, err := p.Complete(context.Background(), Request{System: "s", User: "u"})
	var aiErr *AIError
	require.True(t, errors.As(err, &aiErr))
	assert.Equal(t, ErrTypeRateLimit, aiErr.Type)
	assert.Equal(t, http.StatusTooManyRequests, aiErr.Code)
}

func TestNewOpenAIProvider_RequiresKey(t *testing.T) {
	_, err := NewOpenAIProvider(config.LLMConfig{})
	var aiErr *AIError
	require.True(t, errors.As(err, &aiErr))
	assert.Equal(t, ErrTypeConfig, aiErr.Type)
}
