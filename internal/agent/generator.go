package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Anko59/AutoHubble/internal/llm"
	"github.com/Anko59/AutoHubble/internal/logging"
	"github.com/Anko59/AutoHubble/internal/scrape"
)

// Generator asks the generator role for file operations and applies them.
type Generator struct {
	llm       llm.Completer
	workspace Workspace
	limits    Limits
	logger    *zap.Logger
}

// GenerateInput is everything one generation phase works from.
type GenerateInput struct {
	Analysis     *scrape.WebsiteAnalysis
	TargetFields map[string]string
	SpiderName   string
	ProjectDir   string
	EntryPoint   string
	// Memory is the session's action history before this phase.
	Memory   []scrape.ActionMemory
	Feedback *scrape.TestResult
	OnAction func(scrape.ActionMemory)
}

// Phase is what a generation phase did.
type Phase struct {
	Actions []scrape.ActionMemory
	// Finished is set when a final action had at least one successful operation.
	Finished bool
}

// NewGenerator builds a generator.
func NewGenerator(c llm.Completer, ws Workspace, limits Limits, logger *zap.Logger) *Generator {
	return &Generator{llm: c, workspace: ws, limits: limits, logger: logging.OrNop(logger)}
}

// Generate requests and applies up to MaxActions actions. It stops early once
// an action marked final has at least one successful operation. Actions
// applied before an error are still returned in the phase.
func (g *Generator) Generate(ctx context.Context, in GenerateInput) (Phase, error) {
	var phase Phase
	for i := 0; i < g.limits.MaxActions; i++ {
		code, err := g.workspace.ProjectContent(in.ProjectDir)
		if err != nil {
			return phase, fmt.Errorf("read project: %w", err)
		}

		memory := make([]scrape.ActionMemory, 0, len(in.Memory)+len(phase.Actions))
		memory = append(append(memory, in.Memory...), phase.Actions...)

		action, err := llm.CompleteAs[scrape.GeneratorAction](ctx, g.llm, llm.Request{
			Role:   llm.RoleGenerator,
			System: generatorPrompt,
			Content: generatorContext{
				WebsiteStructure:   in.Analysis,
				CurrentProjectCode: code,
				TargetFields:       in.TargetFields,
				SpiderName:         in.SpiderName,
				EntryPoint:         in.EntryPoint,
				PreviousActions:    memory,
				DebugFeedback:      in.Feedback,
				Requirements:       generatorRequirements,
			},
			Schema: scrape.GeneratorActionSchema,
		})
		if err != nil {
			return phase, fmt.Errorf("generator action %d: %w", i+1, err)
		}

		mem := g.workspace.ApplyAction(in.ProjectDir, action)
		phase.Actions = append(phase.Actions, mem)
		if in.OnAction != nil {
			in.OnAction(mem)
		}
		g.logger.Info("generator action applied",
			zap.Int("action", i+1),
			zap.Int("operations", len(action.Actions)),
			zap.Bool("final", action.IsFinal),
			zap.Bool("any_succeeded", mem.AnySucceeded()),
		)

		if action.IsFinal && mem.AnySucceeded() {
			phase.Finished = true
			break
		}
	}
	return phase, nil
}
