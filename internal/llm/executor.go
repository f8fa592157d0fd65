package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/Anko59/AutoHubble/internal/llm")

// DefaultBaseDelay is the first backoff step between retries on one model.
const DefaultBaseDelay = time.Second

// Request is one structured completion to run against the models of a role.
type Request struct {
	Role   AgentRole
	System string
	// Content is sent as the user message. Strings pass through, anything
	// else is serialized as canonical JSON.
	Content   any
	Schema    *Schema
	RequestID string
}

// Completer runs a structured completion and returns schema-valid JSON.
type Completer interface {
	Complete(ctx context.Context, req Request) (json.RawMessage, error)
}

// Recorder receives per-attempt accounting.
type Recorder interface {
	RecordModelAttempt(role, model, outcome string)
	RecordModelUsage(role, model string)
	RecordModelFailure(role, model string)
	RecordExhausted(role string)
	RecordTruncation(model string)
}

// Executor walks the fallback chain of a role, retrying each model with
// exponential backoff before moving to the next one.
type Executor struct {
	registry  *Registry
	budgeter  *Budgeter
	logger    *zap.Logger
	recorder  Recorder
	baseDelay time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(l *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) ExecutorOption {
	return func(e *Executor) { e.recorder = r }
}

// WithBaseDelay sets the first backoff step. Zero disables waiting.
func WithBaseDelay(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.baseDelay = d }
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ExecutorOption {
	return func(e *Executor) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

// NewExecutor builds an executor over a filled registry.
func NewExecutor(reg *Registry, budgeter *Budgeter, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:  reg,
		budgeter:  budgeter,
		logger:    zap.NewNop(),
		baseDelay: DefaultBaseDelay,
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.budgeter == nil {
		e.budgeter = NewBudgeter(HeuristicTokenizer{}, DefaultBudgetRatio, nil)
	}
	return e
}

// Complete returns the first schema-valid reply produced by the models of
// req.Role. Each model is tried up to its retry count; fatal errors skip
// the remaining retries of that model. An *ExhaustedError is returned when
// every model failed.
func (e *Executor) Complete(ctx context.Context, req Request) (json.RawMessage, error) {
	if req.Schema == nil {
		return nil, errors.New("completion request without schema")
	}
	specs, err := e.registry.ModelsFor(req.Role)
	if err != nil {
		return nil, err
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	content, err := Serialize(req.Content)
	if err != nil {
		return nil, err
	}

	log := e.logger.With(zap.String("request_id", req.RequestID), zap.String("role", req.Role.String()))
	role := req.Role.String()
	attempts := 0
	var last error

	for _, s := range specs {
		provider, spec, err := e.registry.Resolve(s.ID)
		if err != nil {
			last = err
			log.Warn("model unavailable", zap.String("model", s.ID), zap.Error(err))
			continue
		}
		payload, plan, err := e.budgeter.Fit(req.System, content, spec)
		if err != nil {
			last = err
			e.recordFailure(role, spec.ID)
			log.Warn("model skipped", zap.String("model", spec.ID), zap.Error(err))
			continue
		}
		if plan.Truncated {
			e.recordTruncation(spec.ID)
			log.Info("content truncated",
				zap.String("model", spec.ID),
				zap.Int("content_tokens", plan.ContentTokens),
				zap.Int("final_tokens", plan.FinalTokens),
				zap.Int("available", plan.Available),
			)
		}

	retries:
		for n := 1; n <= spec.Retries; n++ {
			attempts++
			res := e.attempt(ctx, provider, spec, req, payload, n)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			e.recordAttempt(role, spec.ID, res.kind.String())

			fields := []zap.Field{zap.String("model", spec.ID), zap.Int("attempt", n)}
			switch res.kind {
			case outcomeOK:
				e.recordUsage(role, spec.ID)
				log.Debug("completion succeeded", fields...)
				return res.value, nil
			case outcomeFatal:
				last = res.err
				log.Warn("model failed", append(fields, zap.Error(res.err))...)
				break retries
			default:
				last = res.err
				log.Warn("attempt failed", append(fields, zap.Error(res.err))...)
				if n < spec.Retries {
					if err := e.sleep(ctx, e.backoff(n)); err != nil {
						return nil, err
					}
				}
			}
		}
		e.recordFailure(role, spec.ID)
	}

	if e.recorder != nil {
		e.recorder.RecordExhausted(role)
	}
	log.Error("all fallback models exhausted", zap.Int("attempts", attempts), zap.Error(last))
	return nil, &ExhaustedError{Role: req.Role, Attempts: attempts, Last: last}
}

// backoff returns base * 2^n for the n-th failed attempt.
func (e *Executor) backoff(n int) time.Duration {
	return e.baseDelay * time.Duration(1<<n)
}

func (e *Executor) attempt(ctx context.Context, provider Provider, spec ModelSpec, req Request, payload string, n int) outcome {
	ctx, span := tracer.Start(ctx, "llm.attempt", trace.WithAttributes(
		attribute.String("llm.role", req.Role.String()),
		attribute.String("llm.model", spec.ID),
		attribute.String("llm.delivery", spec.Delivery().String()),
		attribute.Int("llm.attempt", n),
	))
	defer span.End()

	raw, err := e.deliver(ctx, provider, spec, req, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return classify(err)
	}
	return succeeded(raw)
}

func (e *Executor) deliver(ctx context.Context, provider Provider, spec ModelSpec, req Request, payload string) (json.RawMessage, error) {
	chatReq := ChatRequest{
		Model: spec.Name,
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: req.System},
			{Role: RoleUser, Content: payload},
		},
		MaxTokens:   spec.MaxTokens,
		Temperature: spec.Temperature,
		Upstreams:   spec.Upstreams,
	}

	switch spec.Delivery() {
	case DeliverySchemaTyped:
		chatReq.ResponseFormat = schemaFormat(req.Schema, true)
		text, err := chat(ctx, provider, chatReq)
		if err != nil {
			return nil, err
		}
		return strictJSON(text, req.Schema)
	case DeliveryStructured:
		chatReq.ResponseFormat = schemaFormat(req.Schema, false)
		text, err := chat(ctx, provider, chatReq)
		if err != nil {
			return nil, err
		}
		raw, err := ParsePermissive(text)
		if err != nil {
			return nil, err
		}
		if err := req.Schema.Validate(raw); err != nil {
			return nil, err
		}
		return raw, nil
	default:
		text, err := chat(ctx, provider, chatReq)
		if err != nil {
			return nil, err
		}
		return e.structure(ctx, text, req.Schema)
	}
}

// structure asks the structurer model to convert a free-text answer into
// JSON matching schema. It is called once per unstructured attempt; its
// failures count against that attempt.
func (e *Executor) structure(ctx context.Context, text string, schema *Schema) (json.RawMessage, error) {
	provider, spec, err := e.registry.Structurer()
	if err != nil {
		return nil, err
	}
	system := structurerPrompt(schema)
	payload, _, err := e.budgeter.Fit(system, text, spec)
	if err != nil {
		return nil, err
	}
	out, err := chat(ctx, provider, ChatRequest{
		Model: spec.Name,
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: system},
			{Role: RoleUser, Content: payload},
		},
		MaxTokens:      spec.MaxTokens,
		Temperature:    spec.Temperature,
		ResponseFormat: schemaFormat(schema, true),
		Upstreams:      spec.Upstreams,
	})
	if err != nil {
		return nil, fmt.Errorf("structurer %s: %w", spec.ID, err)
	}
	return strictJSON(out, schema)
}

func structurerPrompt(schema *Schema) string {
	return "Convert the user's text into a single JSON document that matches the schema below. " +
		"Keep every piece of information the text provides and do not invent anything.\n\n" +
		"Schema:\n" + schema.String()
}

func schemaFormat(schema *Schema, strict bool) *ResponseFormat {
	return &ResponseFormat{
		Mode:   ResponseJSONSchema,
		Name:   schema.Name,
		Schema: schema.Document(),
		Strict: strict,
	}
}

func chat(ctx context.Context, provider Provider, req ChatRequest) (string, error) {
	resp, err := provider.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return "", fmt.Errorf("%s: %w", provider.Name(), ErrEmptyResponse)
	}
	return text, nil
}

// strictJSON accepts only a bare JSON document that matches schema.
func strictJSON(text string, schema *Schema) (json.RawMessage, error) {
	raw := []byte(text)
	if !json.Valid(raw) {
		return nil, &DecodeError{Err: errors.New("reply is not valid JSON")}
	}
	if err := schema.Validate(raw); err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

func (e *Executor) recordAttempt(role, model, outcome string) {
	if e.recorder != nil {
		e.recorder.RecordModelAttempt(role, model, outcome)
	}
}

func (e *Executor) recordUsage(role, model string) {
	if e.recorder != nil {
		e.recorder.RecordModelUsage(role, model)
	}
}

func (e *Executor) recordFailure(role, model string) {
	if e.recorder != nil {
		e.recorder.RecordModelFailure(role, model)
	}
}

func (e *Executor) recordTruncation(model string) {
	if e.recorder != nil {
		e.recorder.RecordTruncation(model)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CompleteAs runs req and decodes the reply into T.
func CompleteAs[T any](ctx context.Context, c Completer, req Request) (T, error) {
	var out T
	raw, err := c.Complete(ctx, req)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &DecodeError{Err: err}
	}
	return out, nil
}
