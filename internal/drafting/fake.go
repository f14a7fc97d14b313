package drafting

import (
	"context"
	"sync"

	"github.com/trainu/coach-inbox/internal/llm"
)

// StaticCompleter returns a canned completion and records the prompts it saw.
type StaticCompleter struct {
	Text   string
	Model  string
	Tokens int
	Err    error

	mu       sync.Mutex
	requests []llm.Request
}

func (s *StaticCompleter) Complete(_ context.Context, req llm.Request) (llm.Completion, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.Err != nil {
		return llm.Completion{}, s.Err
	}
	model := s.Model
	if model == "" {
		model = "gpt-4"
	}
	return llm.Completion{Text: s.Text, Model: model, TotalTokens: s.Tokens}, nil
}

func (s *StaticCompleter) Requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Request, len(s.requests))
	copy(out, s.requests)
	return out
}
