// Package llm wraps the chat-completion provider used to draft messages.
package llm

import (
	"context"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/trainu/coach-inbox/internal/config"
)

type Request struct {
	System string
	User   string
}

type Completion struct {
	Text        string
	Model       string
	TotalTokens int
}

// OpenAIProvider calls an OpenAI-compatible chat completion endpoint.
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
}

func NewOpenAIProvider(cfg config.LLMConfig) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, NewConfigError("llm api key is empty")
	}
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4
	}
	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(c),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
	}, nil
}

func (p *OpenAIProvider) Model() string { return p.model }

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (Completion, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	})
	if err != nil {
		return Completion{}, classify("completion", p.model, err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return Completion{}, &AIError{
			Type:      ErrTypeProvider,
			Operation: "completion",
			Model:     p.model,
			Message:   "empty completion response",
		}
	}

	return Completion{
		Text:        resp.Choices[0].Message.Content,
		Model:       resp.Model,
		TotalTokens: resp.Usage.TotalTokens,
	}, nil
}
