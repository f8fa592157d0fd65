package llm

import (
	"context"
)

// Role is the message role used in chat exchanges.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage represents a single message exchanged with the model.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`
	Name    string `json:"name,omitempty"`
}

// ResponseMode selects how a backend constrains its output.
type ResponseMode string

const (
	ResponseText       ResponseMode = ""
	ResponseJSONObject ResponseMode = "json_object"
	ResponseJSONSchema ResponseMode = "json_schema"
)

// ResponseFormat asks the backend to shape its answer after a JSON schema.
type ResponseFormat struct {
	Mode   ResponseMode
	Name   string
	Schema map[string]any
	Strict bool
}

// ChatRequest is the input for chat providers.
type ChatRequest struct {
	Model          string
	Messages       []ChatMessage
	MaxTokens      int
	Temperature    float64
	ResponseFormat *ResponseFormat
	// Upstreams is the preferred upstream order for routing gateways.
	Upstreams []string
}

// Usage captures token accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatResponse is the result of a chat completion.
type ChatResponse struct {
	Message      ChatMessage
	FinishReason string
	Usage        Usage
	RawResponse  interface{}
	ProviderName string
	Model        string
}

// Provider defines the contract for LLM providers.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}
