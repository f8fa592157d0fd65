package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	genai "google.golang.org/genai"

	"github.com/Anko59/AutoHubble/internal/llm"
)

// Options configures a Gemini API provider.
type Options struct {
	Name    string
	APIKey  string
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Provider talks to the Gemini API through the official genai client.
type Provider struct {
	name    string
	cli     *genai.Client
	timeout time.Duration
}

// NewProvider builds the genai client. An empty API key lets the client
// read GEMINI_API_KEY or GOOGLE_API_KEY from the environment.
func NewProvider(ctx context.Context, opts Options) (*Provider, error) {
	cfg := &genai.ClientConfig{
		Backend:    genai.BackendGeminiAPI,
		APIKey:     opts.APIKey,
		HTTPClient: opts.HTTPClient,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	cli, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Provider{name: opts.Name, cli: cli, timeout: timeout}, nil
}

// Name returns provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// Chat sends system messages as the system instruction and the rest as
// user content. Structured requests ask for application/json output and
// carry their schema when one is set.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	if req.Model == "" {
		return llm.ChatResponse{}, fmt.Errorf("model is required")
	}

	cfg := &genai.GenerateContentConfig{}
	var (
		system   []string
		contents []*genai.Content
	)
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			if m.Content != "" {
				system = append(system, m.Content)
			}
		case llm.RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: m.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	if len(system) > 0 {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}}}
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		cfg.Temperature = &t
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if rf := req.ResponseFormat; rf != nil && rf.Mode != llm.ResponseText {
		cfg.ResponseMIMEType = "application/json"
		if rf.Mode == llm.ResponseJSONSchema && rf.Schema != nil {
			cfg.ResponseJsonSchema = rf.Schema
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.cli.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return llm.ChatResponse{}, p.wrapError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return llm.ChatResponse{}, fmt.Errorf("%s: %w", p.name, llm.ErrEmptyResponse)
	}

	cand := resp.Candidates[0]
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		sb.WriteString(part.Text)
	}

	out := llm.ChatResponse{
		Message:      llm.ChatMessage{Role: llm.RoleAssistant, Content: sb.String()},
		FinishReason: strings.ToLower(string(cand.FinishReason)),
		RawResponse:  resp,
		ProviderName: p.name,
		Model:        req.Model,
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

func (p *Provider) wrapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &llm.ProviderError{Provider: p.name, StatusCode: apiErr.Code, Message: apiErr.Message, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", p.name, llm.ErrTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &llm.ProviderError{Provider: p.name, Err: err}
}
