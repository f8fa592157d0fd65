package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/Anko59/AutoHubble/internal/llm"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "https://api.openai.com/v1"

// Options configures an OpenAI-compatible provider.
type Options struct {
	Name    string
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Headers map[string]string
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Provider implements an OpenAI-compatible chat provider. It serves OpenAI
// itself as well as gateways such as OpenRouter.
type Provider struct {
	name    string
	client  sdk.Client
	timeout time.Duration
}

// NewProvider constructs a Provider with sane defaults. Retries are left to
// the caller, so the SDK's own retry loop is disabled.
func NewProvider(opts Options) *Provider {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	reqOpts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
	}
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	for k, v := range opts.Headers {
		reqOpts = append(reqOpts, option.WithHeader(k, v))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	return &Provider{
		name:    opts.Name,
		client:  sdk.NewClient(reqOpts...),
		timeout: timeout,
	}
}

// Name returns provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// Chat executes a non-streaming chat completion.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		return llm.ChatResponse{}, fmt.Errorf("model is required")
	}

	params := sdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: toOpenAIMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if rf := req.ResponseFormat; rf != nil {
		switch rf.Mode {
		case llm.ResponseJSONSchema:
			params.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
					JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
						Name:   rf.Name,
						Schema: rf.Schema,
						Strict: sdk.Bool(rf.Strict),
					},
				},
			}
		case llm.ResponseJSONObject:
			params.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
			}
		}
	}

	callOpts := []option.RequestOption{option.WithRequestTimeout(p.timeout)}
	if len(req.Upstreams) > 0 {
		// OpenRouter provider routing; ignored by other backends.
		callOpts = append(callOpts, option.WithJSONSet("provider", map[string]any{"order": req.Upstreams}))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params, callOpts...)
	if err != nil {
		return llm.ChatResponse{}, p.wrapError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return llm.ChatResponse{}, fmt.Errorf("%s: %w", p.name, llm.ErrEmptyResponse)
	}

	choice := resp.Choices[0]
	return llm.ChatResponse{
		Message: llm.ChatMessage{
			Role:    llm.RoleAssistant,
			Content: choice.Message.Content,
		},
		FinishReason: string(choice.FinishReason),
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		RawResponse:  resp,
		ProviderName: p.name,
		Model:        resp.Model,
	}, nil
}

func (p *Provider) wrapError(ctx context.Context, err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return &llm.ProviderError{
			Provider:   p.name,
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Message,
			Err:        err,
		}
	}
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", p.name, llm.ErrTimeout)
	}
	if ctx.Err() != nil {
		return err
	}
	return &llm.ProviderError{Provider: p.name, Err: err}
}

func toOpenAIMessages(msgs []llm.ChatMessage) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			if m.Content == "" {
				continue
			}
			out = append(out, sdk.SystemMessage(m.Content))
		case llm.RoleAssistant:
			out = append(out, sdk.AssistantMessage(m.Content))
		default:
			out = append(out, sdk.UserMessage(m.Content))
		}
	}
	return out
}
