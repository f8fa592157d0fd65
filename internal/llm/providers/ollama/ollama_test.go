package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Anko59/AutoHubble/internal/llm"
)

func TestChat(t *testing.T) {
	t.Parallel()

	p := NewProvider("ollama", "http://mock", 0)
	p.useHTTPClient(&http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			require.Equal(t, "/api/chat", r.URL.Path)
			return &http.Response{
				StatusCode: http.StatusOK,
				Header:     make(http.Header),
				Body:       io.NopCloser(strings.NewReader(`{"message":{"role":"assistant","content":"pong"},"done":true,"prompt_eval_count":3,"eval_count":1}`)),
			}, nil
		}),
	})

	resp, err := p.Chat(context.Background(), llm.ChatRequest{
		Model: "llama3",
		Messages: []llm.ChatMessage{
			{Role: llm.RoleUser, Content: "ping"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "pong", resp.Message.Content)
	require.Equal(t, "stop", resp.FinishReason)
	require.Equal(t, 4, resp.Usage.TotalTokens)
}

func TestChatSendsSchemaAsFormat(t *testing.T) {
	t.Parallel()

	p := NewProvider("ollama", "http://mock", 0)
	p.useHTTPClient(&http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			format, ok := body["format"].(map[string]interface{})
			require.True(t, ok)
			require.Equal(t, "object", format["type"])
			return &http.Response{
				StatusCode: http.StatusOK,
				Header:     make(http.Header),
				Body:       io.NopCloser(strings.NewReader(`{"message":{"role":"assistant","content":"{}"}}`)),
			}, nil
		}),
	})

	_, err := p.Chat(context.Background(), llm.ChatRequest{
		Model:          "llama3",
		Messages:       []llm.ChatMessage{{Role: llm.RoleUser, Content: "hi"}},
		ResponseFormat: &llm.ResponseFormat{Mode: llm.ResponseJSONSchema, Schema: map[string]any{"type": "object"}},
	})
	require.NoError(t, err)
}

func TestChatMapsStatusErrors(t *testing.T) {
	t.Parallel()

	p := NewProvider("ollama", "http://mock", 0)
	p.useHTTPClient(&http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusServiceUnavailable,
				Header:     make(http.Header),
				Body:       io.NopCloser(strings.NewReader("loading model")),
			}, nil
		}),
	})

	_, err := p.Chat(context.Background(), llm.ChatRequest{Model: "llama3"})
	var pe *llm.ProviderError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, http.StatusServiceUnavailable, pe.StatusCode)
	require.True(t, pe.Transient())
}

type roundTripFunc func(r *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
