package configbuilder

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Anko59/AutoHubble/internal/config"
	"github.com/Anko59/AutoHubble/internal/llm"
	llmgemini "github.com/Anko59/AutoHubble/internal/llm/providers/gemini"
	llmollama "github.com/Anko59/AutoHubble/internal/llm/providers/ollama"
	llmopenai "github.com/Anko59/AutoHubble/internal/llm/providers/openai"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// BuildRegistryFromConfig constructs a registry, its providers and the role
// table from config.
func BuildRegistryFromConfig(ctx context.Context, cfg *config.Config) (*llm.Registry, error) {
	reg := llm.NewRegistry()

	for name, pCfg := range cfg.Providers {
		p, err := buildProvider(ctx, name, pCfg)
		if err != nil {
			return nil, err
		}
		reg.RegisterProvider(name, p)
	}

	for id, mCfg := range cfg.Models {
		retries := mCfg.Retries
		if retries <= 0 {
			retries = config.DefaultRetries
		}
		reg.RegisterModel(llm.ModelSpec{
			ID:                id,
			Name:              mCfg.Model,
			Provider:          mCfg.Provider,
			Description:       mCfg.Description,
			ContextLength:     mCfg.ContextLength,
			StructuredOutput:  mCfg.StructuredOutput,
			SchemaTypedOutput: mCfg.SchemaOutput,
			Retries:           retries,
			Upstreams:         mCfg.Upstreams,
			Temperature:       mCfg.Temperature,
			MaxTokens:         mCfg.MaxTokens,
		})
	}

	for key, ids := range cfg.Roles.AsMap() {
		role, err := llm.ParseAgentRole(key)
		if err != nil {
			return nil, err
		}
		if err := reg.SetRole(role, ids); err != nil {
			return nil, err
		}
	}

	for _, m := range reg.Models() {
		if _, _, err := reg.Resolve(m.ID); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

// BuildTokenizer loads the configured BPE vocabulary. When it cannot be
// loaded the character heuristic is returned together with the error so
// callers can log and continue.
func BuildTokenizer(cfg *config.Config) (llm.Tokenizer, error) {
	tok, err := llm.NewTokenizer(cfg.Tokenizer.Encoding, cfg.Tokenizer.CacheSize)
	if err != nil {
		return llm.HeuristicTokenizer{}, err
	}
	return tok, nil
}

// BuildExecutor wires a budgeter and executor over reg using config limits.
func BuildExecutor(cfg *config.Config, reg *llm.Registry, tok llm.Tokenizer, opts ...llm.ExecutorOption) *llm.Executor {
	budgeter := llm.NewBudgeter(tok, cfg.Tokenizer.BudgetRatio, nil)
	all := append([]llm.ExecutorOption{llm.WithBaseDelay(cfg.Retry.BaseDelay)}, opts...)
	return llm.NewExecutor(reg, budgeter, all...)
}

func buildProvider(ctx context.Context, name string, cfg config.ProviderConfig) (llm.Provider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" && cfg.APIKeyEnv != "" {
		apiKey = strings.TrimSpace(os.Getenv(cfg.APIKeyEnv))
	}

	kind := cfg.Kind()
	switch kind {
	case "openai", "openrouter", "vllm", "lmstudio", "custom":
		baseURL := cfg.BaseURL
		if baseURL == "" && kind == "openrouter" {
			baseURL = openRouterBaseURL
		}
		return llmopenai.NewProvider(llmopenai.Options{
			Name:    name,
			BaseURL: baseURL,
			APIKey:  apiKey,
			Timeout: cfg.Timeout,
			Headers: cfg.Headers,
		}), nil
	case "gemini":
		return llmgemini.NewProvider(ctx, llmgemini.Options{
			Name:    name,
			APIKey:  apiKey,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		})
	case "ollama":
		return llmollama.NewProvider(name, cfg.BaseURL, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q for provider %s", cfg.Type, name)
	}
}
