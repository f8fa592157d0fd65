package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Anko59/AutoHubble/internal/llm"
)

const completionBody = `{
	"id": "cmpl-1",
	"object": "chat.completion",
	"created": 1,
	"model": "openai/gpt-4o-mini",
	"choices": [{
		"index": 0,
		"finish_reason": "stop",
		"message": {"role": "assistant", "content": "hello"}
	}],
	"usage": {"prompt_tokens": 1, "completion_tokens": 2, "total_tokens": 3}
}`

func jsonResponse(status int, body string) *http.Response {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return &http.Response{
		StatusCode: status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestChatSendsRequestAndParsesResponse(t *testing.T) {
	t.Parallel()

	p := NewProvider(Options{
		Name:    "openrouter",
		BaseURL: "http://mock/api/v1",
		APIKey:  "key",
		Timeout: 5 * time.Second,
		Headers: map[string]string{"X-Title": "AutoHubble"},
		HTTPClient: &http.Client{
			Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
				require.Equal(t, "/api/v1/chat/completions", r.URL.Path)
				require.Equal(t, "Bearer key", r.Header.Get("Authorization"))
				require.Equal(t, "AutoHubble", r.Header.Get("X-Title"))

				body, err := io.ReadAll(r.Body)
				require.NoError(t, err)

				var reqBody map[string]interface{}
				require.NoError(t, json.Unmarshal(body, &reqBody))
				require.Equal(t, "openai/gpt-4o-mini", reqBody["model"])

				provider, ok := reqBody["provider"].(map[string]interface{})
				require.True(t, ok)
				require.Equal(t, []interface{}{"OpenAI"}, provider["order"])

				format, ok := reqBody["response_format"].(map[string]interface{})
				require.True(t, ok)
				require.Equal(t, "json_schema", format["type"])
				schema := format["json_schema"].(map[string]interface{})
				require.Equal(t, "answer", schema["name"])
				require.Equal(t, true, schema["strict"])

				return jsonResponse(http.StatusOK, completionBody), nil
			}),
		},
	})

	resp, err := p.Chat(context.Background(), llm.ChatRequest{
		Model: "openai/gpt-4o-mini",
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: "be brief"},
			{Role: llm.RoleUser, Content: "hi"},
		},
		ResponseFormat: &llm.ResponseFormat{
			Mode:   llm.ResponseJSONSchema,
			Name:   "answer",
			Schema: map[string]any{"type": "object"},
			Strict: true,
		},
		Upstreams: []string{"OpenAI"},
	})
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Message.Content)
	require.Equal(t, "stop", resp.FinishReason)
	require.Equal(t, 3, resp.Usage.TotalTokens)
	require.Equal(t, "openrouter", resp.ProviderName)
}

func TestChatMapsAPIErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status    int
		transient bool
	}{
		{status: http.StatusTooManyRequests, transient: true},
		{status: http.StatusBadGateway, transient: true},
		{status: http.StatusBadRequest, transient: true},
		{status: http.StatusNotFound, transient: true},
		{status: http.StatusUnauthorized, transient: false},
	}
	for _, tc := range cases {
		p := NewProvider(Options{
			Name:    "openai",
			BaseURL: "http://mock/v1",
			HTTPClient: &http.Client{
				Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
					return jsonResponse(tc.status, `{"error":{"message":"nope","type":"x"}}`), nil
				}),
			},
		})

		_, err := p.Chat(context.Background(), llm.ChatRequest{
			Model:    "gpt-4o",
			Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: "hi"}},
		})
		var pe *llm.ProviderError
		require.ErrorAs(t, err, &pe)
		require.Equal(t, tc.status, pe.StatusCode)
		require.Equal(t, tc.transient, pe.Transient())
	}
}

func TestChatRequiresModel(t *testing.T) {
	p := NewProvider(Options{Name: "openai"})
	_, err := p.Chat(context.Background(), llm.ChatRequest{})
	require.Error(t, err)
}

type roundTripFunc func(r *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
