package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/Anko59/AutoHubble/internal/llm"
)

const defaultBaseURL = "http://127.0.0.1:11434"

// Provider talks to a local Ollama server through its official client.
type Provider struct {
	name   string
	base   *url.URL
	client *api.Client
}

// NewProvider constructs an Ollama provider. An unparsable baseURL falls
// back to the local default.
func NewProvider(name, baseURL string, timeout time.Duration) *Provider {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || base.Host == "" {
		base, _ = url.Parse(defaultBaseURL)
	}

	p := &Provider{name: name, base: base}
	p.useHTTPClient(&http.Client{Timeout: timeout})
	return p
}

func (p *Provider) useHTTPClient(hc *http.Client) {
	p.client = api.NewClient(p.base, hc)
}

// Name returns provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// Chat executes a non-streaming chat completion. A JSON schema response
// format is passed through as Ollama's structured output "format".
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	if req.Model == "" {
		return llm.ChatResponse{}, fmt.Errorf("model is required")
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: toOllamaMessages(req.Messages),
		Stream:   &stream,
		Options:  map[string]any{},
	}
	if req.Temperature > 0 {
		chatReq.Options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		chatReq.Options["num_predict"] = req.MaxTokens
	}
	if rf := req.ResponseFormat; rf != nil {
		switch rf.Mode {
		case llm.ResponseJSONSchema:
			schema, err := json.Marshal(rf.Schema)
			if err != nil {
				return llm.ChatResponse{}, fmt.Errorf("marshal schema: %w", err)
			}
			chatReq.Format = schema
		case llm.ResponseJSONObject:
			chatReq.Format = json.RawMessage(`"json"`)
		}
	}

	var (
		content strings.Builder
		last    api.ChatResponse
	)
	err := p.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		last = resp
		return nil
	})
	if err != nil {
		return llm.ChatResponse{}, p.mapError(ctx, err)
	}

	role := last.Message.Role
	if role == "" {
		role = string(llm.RoleAssistant)
	}
	return llm.ChatResponse{
		Message: llm.ChatMessage{
			Role:    llm.Role(role),
			Content: content.String(),
		},
		FinishReason: orStop(last.DoneReason),
		Usage: llm.Usage{
			PromptTokens:     last.PromptEvalCount,
			CompletionTokens: last.EvalCount,
			TotalTokens:      last.PromptEvalCount + last.EvalCount,
		},
		RawResponse:  last,
		ProviderName: p.name,
		Model:        req.Model,
	}, nil
}

func (p *Provider) mapError(ctx context.Context, err error) error {
	var status api.StatusError
	if errors.As(err, &status) {
		return &llm.ProviderError{Provider: p.name, StatusCode: status.StatusCode, Message: strings.TrimSpace(status.ErrorMessage)}
	}
	if ctx.Err() == nil && isTimeout(err) {
		return fmt.Errorf("%s: %w", p.name, llm.ErrTimeout)
	}
	return &llm.ProviderError{Provider: p.name, Err: err}
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

func orStop(reason string) string {
	if reason == "" {
		return "stop"
	}
	return reason
}

func toOllamaMessages(msgs []llm.ChatMessage) []api.Message {
	out := make([]api.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Content == "" && m.Role == llm.RoleSystem {
			continue
		}
		out = append(out, api.Message{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return out
}
