package agent

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Anko59/AutoHubble/internal/browser"
	"github.com/Anko59/AutoHubble/internal/config"
	"github.com/Anko59/AutoHubble/internal/llm"
	"github.com/Anko59/AutoHubble/internal/runner"
	"github.com/Anko59/AutoHubble/internal/scrape"
	"github.com/Anko59/AutoHubble/internal/simplify"
)

// ErrPrecondition is returned when a session is asked to generate without
// the state it needs (target fields, base URL, a generated project).
var ErrPrecondition = errors.New("session precondition not met")

// LoaderFactory returns a fresh page loader. Each analysis run starts and
// quits its own loader.
type LoaderFactory func() (browser.Loader, error)

// PageSimplifier reduces raw HTML to the parts worth showing a model.
type PageSimplifier interface {
	Simplify(ctx context.Context, raw string) (simplify.Result, error)
}

// Workspace scaffolds and edits generated projects. *workspace.Manager implements it.
type Workspace interface {
	ProjectDir(name string) string
	SetupProject(dest, name string) (string, error)
	ApplyAction(dest string, action scrape.GeneratorAction) scrape.ActionMemory
	ProjectContent(dest string) ([]scrape.ProjectFile, error)
	SaveLogs(name, stdout, stderr string) (string, error)
}

// SpiderRunner executes a generated spider. *runner.SpiderRunner implements it.
type SpiderRunner interface {
	Run(ctx context.Context, spec runner.RunSpec) (runner.RunResult, error)
}

// PageAnalyzer fetches one page on demand for the debugger.
type PageAnalyzer interface {
	AnalyzeSpecificPage(ctx context.Context, url, instructions string) (*scrape.PageAnalysis, error)
}

// SessionRecorder receives finished-session metrics. *observability.Metrics implements it.
type SessionRecorder interface {
	RecordSession(result string, duration time.Duration, attempts int)
}

// Deps are the collaborators a session drives.
type Deps struct {
	LLM        llm.Completer
	NewLoader  LoaderFactory
	Simplifier PageSimplifier
	Workspace  Workspace
	Runner     SpiderRunner
	Recorder   SessionRecorder
	Logger     *zap.Logger
}

// Limits bound every loop of a session.
type Limits struct {
	MaxDepth      int
	MaxLinks      int
	MaxActions    int
	MaxAttempts   int
	MaxDebugLoops int
	SpiderTimeout time.Duration
}

// DefaultLimits returns the stock traversal and retry bounds.
func DefaultLimits() Limits {
	return Limits{
		MaxDepth:      3,
		MaxLinks:      5,
		MaxActions:    20,
		MaxAttempts:   20,
		MaxDebugLoops: 1,
		SpiderTimeout: 120 * time.Second,
	}
}

// LimitsFromConfig reads the navigator, generator and debugger sections.
// Unset values keep their defaults.
func LimitsFromConfig(cfg *config.Config) Limits {
	l := DefaultLimits()
	if cfg == nil {
		return l
	}
	setPositive(&l.MaxDepth, cfg.Navigator.MaxDepth)
	setPositive(&l.MaxLinks, cfg.Navigator.MaxLinks)
	setPositive(&l.MaxActions, cfg.Generator.MaxActions)
	setPositive(&l.MaxAttempts, cfg.Generator.MaxAttempts)
	if cfg.Debugger.MaxDebugLoops >= 0 {
		l.MaxDebugLoops = cfg.Debugger.MaxDebugLoops
	}
	if cfg.Debugger.SpiderTimeout > 0 {
		l.SpiderTimeout = cfg.Debugger.SpiderTimeout
	}
	return l
}

func setPositive(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// Report is the best-effort outcome of Generate.
type Report struct {
	SessionID       string             `json:"session_id"`
	Success         bool               `json:"success"`
	Attempts        int                `json:"attempts"`
	SpiderName      string             `json:"spider_name"`
	ProjectDir      string             `json:"project_dir"`
	EntryPoint      string             `json:"entry_point"`
	Result          *scrape.TestResult `json:"result,omitempty"`
	Recommendations string             `json:"recommendations"`
	Duration        time.Duration      `json:"duration"`
}

// RunReport is the outcome of executing a finished project once.
type RunReport struct {
	Result  runner.RunResult `json:"result"`
	LogsDir string           `json:"logs_dir,omitempty"`
	Err     error            `json:"-"`
}

// OK reports whether the spider ran to completion.
func (r RunReport) OK() bool {
	return r.Err == nil && r.Result.ExitedCleanly
}
