package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Anko59/AutoHubble/internal/llm"
	"github.com/Anko59/AutoHubble/internal/logging"
	"github.com/Anko59/AutoHubble/internal/runner"
	"github.com/Anko59/AutoHubble/internal/scrape"
)

// Debugger runs a generated spider and asks the debugger role to judge it.
type Debugger struct {
	llm       llm.Completer
	runner    SpiderRunner
	workspace Workspace
	pages     PageAnalyzer
	limits    Limits
	logger    *zap.Logger
}

// TestInput identifies the project under test and what the critic knows.
type TestInput struct {
	ProjectDir string
	EntryPoint string
	Analysis   *scrape.WebsiteAnalysis
	History    []scrape.TestResult
	OnDebug    func(url string)
}

// NewDebugger builds a debugger. pages may be nil, which disables the
// information-gathering detour.
func NewDebugger(c llm.Completer, r SpiderRunner, ws Workspace, pages PageAnalyzer, limits Limits, logger *zap.Logger) *Debugger {
	return &Debugger{llm: c, runner: r, workspace: ws, pages: pages, limits: limits, logger: logging.OrNop(logger)}
}

// Test runs the spider under SpiderTimeout and critiques the run. Problems
// with the spider itself become a failed TestResult; only context
// cancellation and critic exhaustion are returned as errors.
func (d *Debugger) Test(ctx context.Context, in TestInput) (*scrape.TestResult, error) {
	d.logger.Info("testing spider", zap.String("entry", in.EntryPoint))

	name, err := runner.ResolveSpiderName(in.ProjectDir, in.EntryPoint)
	if err != nil {
		return &scrape.TestResult{
			Recommendations: fmt.Sprintf("Could not determine spider name from spider path %s", in.EntryPoint),
		}, nil
	}

	run, err := d.runner.Run(ctx, runner.RunSpec{
		EntryPoint: in.EntryPoint,
		WorkDir:    in.ProjectDir,
		Spider:     name,
		Timeout:    d.limits.SpiderTimeout,
	})
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		d.logger.Error("error running spider", zap.String("spider", name), zap.Error(err))
		return &scrape.TestResult{Recommendations: fmt.Sprintf("Failed to run spider: %v", err)}, nil
	}
	if run.TimedOut {
		d.logger.Info("spider stopped at the time limit", zap.String("spider", name), zap.Duration("after", run.Duration))
		run.Stdout += timeoutNote(run.Duration)
	}

	if _, err := d.workspace.SaveLogs(name, run.Stdout, run.Stderr); err != nil {
		d.logger.Warn("saving spider logs failed", zap.Error(err))
	}

	items := run.Items
	code, err := d.workspace.ProjectContent(in.ProjectDir)
	if err != nil {
		d.logger.Warn("reading project failed", zap.Error(err))
	}

	cctx := newDebuggerContext(in.Analysis, in.History, run, items, code)
	result, err := d.critique(ctx, cctx)
	if err != nil {
		return nil, err
	}

	for i := 0; i < d.limits.MaxDebugLoops && result.NeedsMoreInfo && d.pages != nil; i++ {
		if result.URLToAnalyze == "" {
			break
		}
		d.logger.Info("critic asked for more information",
			zap.String("url", result.URLToAnalyze),
			zap.String("instructions", result.AnalysisInstructions),
		)
		if in.OnDebug != nil {
			in.OnDebug(result.URLToAnalyze)
		}
		page, err := d.pages.AnalyzeSpecificPage(ctx, result.URLToAnalyze, result.AnalysisInstructions)
		if err != nil || page == nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			d.logger.Warn("supplementary page analysis failed", zap.Error(err))
			break
		}
		cctx.Supplement = append(cctx.Supplement, *page)
		if result, err = d.critique(ctx, cctx); err != nil {
			return nil, err
		}
	}

	result.ItemsScraped = items
	if items == 0 {
		result.Success = false
		result.Recommendations = withNoItemsPrefix(result.Recommendations)
	}
	return result, nil
}

func (d *Debugger) critique(ctx context.Context, cctx debuggerContext) (*scrape.TestResult, error) {
	result, err := llm.CompleteAs[scrape.TestResult](ctx, d.llm, llm.Request{
		Role:    llm.RoleDebugger,
		System:  debuggerPrompt(d.limits.SpiderTimeout),
		Content: cctx,
		Schema:  scrape.TestResultSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("critique run: %w", err)
	}
	return &result, nil
}
