package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Anko59/AutoHubble/internal/browser"
	"github.com/Anko59/AutoHubble/internal/config"
	"github.com/Anko59/AutoHubble/internal/llm"
	"github.com/Anko59/AutoHubble/internal/llm/configbuilder"
	"github.com/Anko59/AutoHubble/internal/logging"
	"github.com/Anko59/AutoHubble/internal/observability"
	"github.com/Anko59/AutoHubble/internal/runner"
	"github.com/Anko59/AutoHubble/internal/simplify"
	"github.com/Anko59/AutoHubble/internal/workspace"
)

// BuildDeps wires the production collaborators from cfg. metrics may be nil.
func BuildDeps(ctx context.Context, cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) (Deps, error) {
	logger = logging.OrNop(logger)

	registry, err := configbuilder.BuildRegistryFromConfig(ctx, cfg)
	if err != nil {
		return Deps{}, fmt.Errorf("build registry: %w", err)
	}
	tok, err := configbuilder.BuildTokenizer(cfg)
	if err != nil {
		logger.Warn("tokenizer unavailable, using character heuristic", zap.Error(err))
	}
	executor := configbuilder.BuildExecutor(cfg, registry, tok,
		llm.WithLogger(logger),
		llm.WithRecorder(metrics),
	)

	browserCfg := cfg.Browser
	return Deps{
		LLM: executor,
		NewLoader: func() (browser.Loader, error) {
			return browser.NewLoader(browserCfg, logger)
		},
		Simplifier: simplify.New(simplify.WithLogger(logger)),
		Workspace:  workspace.NewManager(cfg.Workspace, logger),
		Runner:     runner.New(cfg.Runner, runner.WithLogger(logger), runner.WithRecorder(metrics)),
		Recorder:   metrics,
		Logger:     logger,
	}, nil
}
