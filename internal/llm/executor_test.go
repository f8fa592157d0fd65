package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Anko59/AutoHubble/internal/llm"
	llmmock "github.com/Anko59/AutoHubble/internal/llm/mock"
)

var answerSchema = llm.MustCompileSchema("answer", []byte(`{
	"type": "object",
	"properties": {"answer": {"type": "string"}},
	"required": ["answer"],
	"additionalProperties": false
}`))

type answer struct {
	Answer string `json:"answer"`
}

type fixture struct {
	reg       *llm.Registry
	providers map[string]*llmmock.Provider
	sleeps    []time.Duration
}

// newFixture registers one mock provider per model so calls can be counted
// per model. Models are listed in role order for the navigator role.
func newFixture(t *testing.T, specs ...llm.ModelSpec) *fixture {
	t.Helper()
	f := &fixture{reg: llm.NewRegistry(), providers: map[string]*llmmock.Provider{}}
	ids := make([]string, 0, len(specs))
	for _, spec := range specs {
		p := &llmmock.Provider{NameValue: spec.ID}
		f.providers[spec.ID] = p
		spec.Provider = spec.ID
		if spec.ContextLength == 0 {
			spec.ContextLength = 10000
		}
		f.reg.RegisterProvider(spec.ID, p)
		f.reg.RegisterModel(spec)
		ids = append(ids, spec.ID)
	}
	require.NoError(t, f.reg.SetRole(llm.RoleNavigator, ids))
	return f
}

func (f *fixture) structurer(t *testing.T, p *llmmock.Provider) {
	t.Helper()
	f.reg.RegisterProvider("structurer", p)
	f.reg.RegisterModel(llm.ModelSpec{ID: "structurer", Provider: "structurer", ContextLength: 10000, Retries: 1, StructuredOutput: true, SchemaTypedOutput: true})
	require.NoError(t, f.reg.SetRole(llm.RoleStructurer, []string{"structurer"}))
}

func (f *fixture) executor() *llm.Executor {
	return llm.NewExecutor(f.reg, llm.NewBudgeter(llm.HeuristicTokenizer{}, 0.8, nil),
		llm.WithBaseDelay(time.Second),
		llm.WithSleep(func(ctx context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)
			return nil
		}),
	)
}

func request() llm.Request {
	return llm.Request{Role: llm.RoleNavigator, System: "answer briefly", Content: map[string]any{"q": "hi"}, Schema: answerSchema}
}

func TestFirstSuccessWins(t *testing.T) {
	f := newFixture(t,
		llm.ModelSpec{ID: "a", Retries: 3, StructuredOutput: true, SchemaTypedOutput: true},
		llm.ModelSpec{ID: "b", Retries: 3, StructuredOutput: true, SchemaTypedOutput: true},
	)
	f.providers["a"].ChatFn = llmmock.Script(`{"answer":"from a"}`)

	out, err := llm.CompleteAs[answer](context.Background(), f.executor(), request())
	require.NoError(t, err)
	require.Equal(t, "from a", out.Answer)
	require.Equal(t, 1, f.providers["a"].CallCount())
	require.Equal(t, 0, f.providers["b"].CallCount())

	call := f.providers["a"].Calls()[0]
	require.NotNil(t, call.ResponseFormat)
	require.Equal(t, llm.ResponseJSONSchema, call.ResponseFormat.Mode)
	require.True(t, call.ResponseFormat.Strict)
	require.Equal(t, `{"q":"hi"}`, call.Messages[1].Content)
}

func TestFallbackAfterRetries(t *testing.T) {
	f := newFixture(t,
		llm.ModelSpec{ID: "a", Retries: 2, StructuredOutput: true, SchemaTypedOutput: true},
		llm.ModelSpec{ID: "b", Retries: 3, StructuredOutput: true, SchemaTypedOutput: true},
	)
	f.providers["a"].ChatFn = llmmock.Script(&llm.ProviderError{Provider: "a", StatusCode: 503, Message: "busy"})
	f.providers["b"].ChatFn = llmmock.Script(`{"answer":"from b"}`)

	out, err := llm.CompleteAs[answer](context.Background(), f.executor(), request())
	require.NoError(t, err)
	require.Equal(t, "from b", out.Answer)
	require.Equal(t, 2, f.providers["a"].CallCount())
	require.Equal(t, 1, f.providers["b"].CallCount())
	require.Equal(t, []time.Duration{2 * time.Second}, f.sleeps)
}

func TestExhaustion(t *testing.T) {
	f := newFixture(t,
		llm.ModelSpec{ID: "a", Retries: 2, StructuredOutput: true, SchemaTypedOutput: true},
		llm.ModelSpec{ID: "b", Retries: 1, StructuredOutput: true, SchemaTypedOutput: true},
	)
	f.providers["a"].ChatFn = llmmock.Script("not json")
	f.providers["b"].ChatFn = llmmock.Script(`{"answer": 3}`)

	_, err := f.executor().Complete(context.Background(), request())
	require.ErrorIs(t, err, llm.ErrExhausted)

	var exhausted *llm.ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	require.Equal(t, 3, exhausted.Attempts)
	require.Equal(t, llm.RoleNavigator, exhausted.Role)

	var validation *llm.ValidationError
	require.True(t, errors.As(err, &validation))
}

func TestRequestErrorIsRetried(t *testing.T) {
	f := newFixture(t,
		llm.ModelSpec{ID: "a", Retries: 3, StructuredOutput: true, SchemaTypedOutput: true},
		llm.ModelSpec{ID: "b", Retries: 3, StructuredOutput: true, SchemaTypedOutput: true},
	)
	f.providers["a"].ChatFn = llmmock.Script(
		&llm.ProviderError{Provider: "a", StatusCode: 400, Message: "bad request"},
		`{"answer":"second try"}`,
	)

	out, err := llm.CompleteAs[answer](context.Background(), f.executor(), request())
	require.NoError(t, err)
	require.Equal(t, "second try", out.Answer)
	require.Equal(t, 2, f.providers["a"].CallCount())
	require.Equal(t, 0, f.providers["b"].CallCount())
	require.Equal(t, []time.Duration{2 * time.Second}, f.sleeps)
}

func TestFatalErrorSkipsRetries(t *testing.T) {
	f := newFixture(t,
		llm.ModelSpec{ID: "a", Retries: 3, StructuredOutput: true, SchemaTypedOutput: true},
		llm.ModelSpec{ID: "b", Retries: 3, StructuredOutput: true, SchemaTypedOutput: true},
	)
	f.providers["a"].ChatFn = llmmock.Script(&llm.ProviderError{Provider: "a", StatusCode: 401, Message: "bad key"})
	f.providers["b"].ChatFn = llmmock.Script(`{"answer":"ok"}`)

	_, err := f.executor().Complete(context.Background(), request())
	require.NoError(t, err)
	require.Equal(t, 1, f.providers["a"].CallCount())
	require.Empty(t, f.sleeps)
}

func TestStructuredModelParsesPermissively(t *testing.T) {
	f := newFixture(t, llm.ModelSpec{ID: "a", Retries: 1, StructuredOutput: true})
	f.providers["a"].ChatFn = llmmock.Script("Here you go:\n```json\n{answer: 'loose', }\n```")

	out, err := llm.CompleteAs[answer](context.Background(), f.executor(), request())
	require.NoError(t, err)
	require.Equal(t, "loose", out.Answer)
	format := f.providers["a"].Calls()[0].ResponseFormat
	require.Equal(t, llm.ResponseJSONSchema, format.Mode)
	require.False(t, format.Strict)
}

func TestUnstructuredModelUsesStructurer(t *testing.T) {
	f := newFixture(t, llm.ModelSpec{ID: "a", Retries: 1})
	f.providers["a"].ChatFn = llmmock.Script("The answer is forty two.")
	structurer := &llmmock.Provider{NameValue: "structurer", ChatFn: llmmock.Script(`{"answer":"forty two"}`)}
	f.structurer(t, structurer)

	out, err := llm.CompleteAs[answer](context.Background(), f.executor(), request())
	require.NoError(t, err)
	require.Equal(t, "forty two", out.Answer)

	require.Nil(t, f.providers["a"].Calls()[0].ResponseFormat)
	calls := structurer.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "The answer is forty two.", calls[0].Messages[1].Content)
	require.Contains(t, calls[0].Messages[0].Content, `"additionalProperties"`)
}

func TestCancelledContextStops(t *testing.T) {
	f := newFixture(t, llm.ModelSpec{ID: "a", Retries: 3, StructuredOutput: true, SchemaTypedOutput: true})
	ctx, cancel := context.WithCancel(context.Background())
	f.providers["a"].ChatFn = func(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
		cancel()
		return llm.ChatResponse{}, ctx.Err()
	}

	_, err := f.executor().Complete(ctx, request())
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, f.providers["a"].CallCount())
}

func TestOversizedPromptSkipsModel(t *testing.T) {
	f := newFixture(t,
		llm.ModelSpec{ID: "tiny", Retries: 3, ContextLength: 2, StructuredOutput: true, SchemaTypedOutput: true},
		llm.ModelSpec{ID: "big", Retries: 1, StructuredOutput: true, SchemaTypedOutput: true},
	)
	f.providers["big"].ChatFn = llmmock.Script(`{"answer":"big"}`)

	out, err := llm.CompleteAs[answer](context.Background(), f.executor(), request())
	require.NoError(t, err)
	require.Equal(t, "big", out.Answer)
	require.Equal(t, 0, f.providers["tiny"].CallCount())
}
