package mock

import (
	"context"
	"sync"

	"github.com/Anko59/AutoHubble/internal/llm"
)

// Provider is a test double implementing llm.Provider. It records every
// request it receives.
type Provider struct {
	NameValue string
	ChatFn    func(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error)

	mu    sync.Mutex
	calls []llm.ChatRequest
}

func (p *Provider) Name() string {
	if p.NameValue != "" {
		return p.NameValue
	}
	return "mock"
}

func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()

	if p.ChatFn != nil {
		return p.ChatFn(ctx, req)
	}
	return Reply("{}"), nil
}

// Calls returns a copy of the recorded requests.
func (p *Provider) Calls() []llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.ChatRequest(nil), p.calls...)
}

// CallCount returns how many requests were received.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Reply builds an assistant response with the given content.
func Reply(content string) llm.ChatResponse {
	return llm.ChatResponse{
		Message: llm.ChatMessage{
			Role:    llm.RoleAssistant,
			Content: content,
		},
		FinishReason: "stop",
	}
}

// Script returns a ChatFn that plays the given steps in order and repeats
// the last one once they run out. A step is either a string reply or an
// error.
func Script(steps ...any) func(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	var (
		mu sync.Mutex
		i  int
	)
	return func(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
		mu.Lock()
		step := steps[len(steps)-1]
		if i < len(steps) {
			step = steps[i]
		}
		i++
		mu.Unlock()

		switch v := step.(type) {
		case error:
			return llm.ChatResponse{}, v
		case string:
			return Reply(v), nil
		default:
			return Reply(""), nil
		}
	}
}
