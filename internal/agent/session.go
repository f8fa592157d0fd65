package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Anko59/AutoHubble/internal/llm"
	"github.com/Anko59/AutoHubble/internal/logging"
	"github.com/Anko59/AutoHubble/internal/runner"
	"github.com/Anko59/AutoHubble/internal/scrape"
)

// Session drives one site from analysis to a tested spider. It is not safe
// for concurrent use.
type Session struct {
	ID string

	startURL     string
	baseURL      string
	targetFields map[string]string
	limits       Limits
	deps         Deps
	observer     Observer
	logger       *zap.Logger

	navigator *Navigator
	generator *Generator
	debugger  *Debugger

	analysis   *scrape.WebsiteAnalysis
	memory     []scrape.ActionMemory
	history    []scrape.TestResult
	spiderName string
	projectDir string
	entryPoint string
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithBaseURL overrides the base URL, which defaults to the start URL's origin.
func WithBaseURL(u string) SessionOption {
	return func(s *Session) { s.baseURL = strings.TrimSpace(u) }
}

// WithLimits replaces the default loop bounds.
func WithLimits(l Limits) SessionOption {
	return func(s *Session) { s.limits = l }
}

// WithObserver registers a progress observer.
func WithObserver(o Observer) SessionOption {
	return func(s *Session) { s.observer = o }
}

// WithSessionID sets the session id instead of generating one.
func WithSessionID(id string) SessionOption {
	return func(s *Session) {
		if id != "" {
			s.ID = id
		}
	}
}

// WithAnalysis seeds the session with an existing website analysis.
func WithAnalysis(a *scrape.WebsiteAnalysis) SessionOption {
	return func(s *Session) { s.analysis = a }
}

// WithProject points the session at an already generated project so Run
// can execute it without generating first.
func WithProject(dir, entryPoint string) SessionOption {
	return func(s *Session) {
		s.projectDir = dir
		s.entryPoint = entryPoint
	}
}

// NewSession prepares a session for startURL extracting targetFields
// (field name to description).
func NewSession(deps Deps, startURL string, targetFields map[string]string, opts ...SessionOption) *Session {
	s := &Session{
		ID:           uuid.NewString(),
		startURL:     strings.TrimSpace(startURL),
		targetFields: targetFields,
		limits:       DefaultLimits(),
		deps:         deps,
	}
	if origin, err := scrape.Origin(s.startURL); err == nil {
		s.baseURL = origin
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(deps.Logger).With(zap.String("session_id", s.ID))

	s.navigator = NewNavigator(deps.LLM, deps.NewLoader, deps.Simplifier, s.limits, s.logger)
	s.generator = NewGenerator(deps.LLM, deps.Workspace, s.limits, s.logger)
	s.debugger = NewDebugger(deps.LLM, deps.Runner, deps.Workspace, s.navigator, s.limits, s.logger)
	return s
}

// Analysis returns the website analysis, if one has been made.
func (s *Session) Analysis() *scrape.WebsiteAnalysis { return s.analysis }

// Memory returns the session's action history.
func (s *Session) Memory() []scrape.ActionMemory {
	return append([]scrape.ActionMemory(nil), s.memory...)
}

// History returns every test result so far.
func (s *Session) History() []scrape.TestResult {
	return append([]scrape.TestResult(nil), s.history...)
}

// Analyze runs the website analysis from the start URL.
func (s *Session) Analyze(ctx context.Context) (*scrape.WebsiteAnalysis, error) {
	if s.startURL == "" {
		return nil, fmt.Errorf("%w: start url is required", ErrPrecondition)
	}
	s.emit(Event{Type: EventPhase, Stage: StageAnalyzing, Message: s.startURL})
	s.logger.Info("analyzing website", zap.String("start_url", s.startURL), zap.String("base_url", s.baseURL))

	analysis, err := s.navigator.AnalyzeWebsite(ctx, s.startURL)
	if err != nil {
		s.emit(Event{Type: EventError, Stage: StageAnalyzing, Message: err.Error()})
		return nil, err
	}
	s.analysis = analysis
	return analysis, nil
}

// Generate builds and tests a spider, repeating generation and testing until
// the critic reports success or MaxAttempts is reached. The returned report
// is always non-nil once the project exists and carries the latest
// recommendations, also when an error is returned.
func (s *Session) Generate(ctx context.Context) (*Report, error) {
	start := time.Now()
	if len(s.targetFields) == 0 {
		return nil, fmt.Errorf("%w: target fields are required", ErrPrecondition)
	}
	if s.baseURL == "" {
		return nil, fmt.Errorf("%w: base url is required", ErrPrecondition)
	}
	if s.analysis == nil {
		if _, err := s.Analyze(ctx); err != nil {
			s.record("error", start, 0)
			return nil, err
		}
	}

	name, err := scrape.SpiderName(s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrecondition, err)
	}
	s.spiderName = name
	s.projectDir = s.deps.Workspace.ProjectDir(name)
	entry, err := s.deps.Workspace.SetupProject(s.projectDir, name)
	if err != nil {
		s.record("error", start, 0)
		return nil, fmt.Errorf("setup project: %w", err)
	}
	s.entryPoint = entry

	report := &Report{
		SessionID:  s.ID,
		SpiderName: name,
		ProjectDir: s.projectDir,
		EntryPoint: entry,
	}
	finish := func(result string, err error) (*Report, error) {
		report.Duration = time.Since(start)
		s.record(result, start, report.Attempts)
		if err != nil {
			s.emit(Event{Type: EventError, Attempt: report.Attempts, Message: err.Error(), Report: report})
			return report, err
		}
		s.emit(Event{Type: EventDone, Attempt: report.Attempts, Report: report})
		return report, nil
	}

	var feedback *scrape.TestResult
	for attempt := 1; attempt <= s.limits.MaxAttempts; attempt++ {
		report.Attempts = attempt
		log := s.logger.With(zap.Int("attempt", attempt))
		log.Info("generation attempt", zap.Int("max_attempts", s.limits.MaxAttempts))
		s.emit(Event{Type: EventAttempt, Attempt: attempt})

		s.emit(Event{Type: EventPhase, Stage: StageGenerating, Attempt: attempt})
		phase, err := s.generator.Generate(ctx, GenerateInput{
			Analysis:     s.analysis,
			TargetFields: s.targetFields,
			SpiderName:   name,
			ProjectDir:   s.projectDir,
			EntryPoint:   entry,
			Memory:       s.memory,
			Feedback:     feedback,
			OnAction: func(m scrape.ActionMemory) {
				s.emit(Event{Type: EventAction, Stage: StageGenerating, Attempt: attempt, Action: &m})
			},
		})
		s.memory = append(s.memory, phase.Actions...)
		if err != nil {
			if ctx.Err() != nil {
				return finish("cancelled", ctx.Err())
			}
			if !errors.Is(err, llm.ErrExhausted) || !anySucceeded(s.memory) {
				return finish("error", err)
			}
			log.Warn("generator exhausted, testing the current project", zap.Error(err))
		}

		s.emit(Event{Type: EventPhase, Stage: StageTesting, Attempt: attempt})
		result, err := s.debugger.Test(ctx, TestInput{
			ProjectDir: s.projectDir,
			EntryPoint: entry,
			Analysis:   s.analysis,
			History:    s.history,
			OnDebug: func(url string) {
				s.emit(Event{Type: EventPhase, Stage: StageDebugging, Attempt: attempt, Message: url})
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				return finish("cancelled", ctx.Err())
			}
			return finish("error", err)
		}

		s.history = append(s.history, *result)
		report.Result = result
		report.Recommendations = result.Recommendations
		feedback = result
		s.emit(Event{Type: EventTest, Stage: StageTesting, Attempt: attempt, Test: result})

		if result.Success {
			report.Success = true
			log.Info("spider test successful", zap.Int("items", result.ItemsScraped))
			return finish("success", nil)
		}
		log.Warn("spider test failed", zap.String("recommendations", result.Recommendations))
	}

	s.logger.Error("max attempts reached, spider generation failed", zap.Int("attempts", report.Attempts))
	return finish("failure", nil)
}

// Run executes the generated spider once without a time limit. Failures are
// logged and reported in RunReport.Err, never returned.
func (s *Session) Run(ctx context.Context) RunReport {
	if s.projectDir == "" || s.entryPoint == "" {
		err := fmt.Errorf("%w: the spider must be generated before running", ErrPrecondition)
		s.logger.Error("cannot run spider", zap.Error(err))
		return RunReport{Err: err}
	}
	s.emit(Event{Type: EventPhase, Stage: StageRunning, Message: s.entryPoint})

	res, err := s.deps.Runner.Run(ctx, runner.RunSpec{
		EntryPoint: s.entryPoint,
		WorkDir:    s.projectDir,
		Spider:     s.spiderName,
	})
	out := RunReport{Result: res, Err: err}
	if res.Spider != "" {
		dir, logErr := s.deps.Workspace.SaveLogs(res.Spider, res.Stdout, res.Stderr)
		if logErr != nil {
			s.logger.Warn("saving spider logs failed", zap.Error(logErr))
		}
		out.LogsDir = dir
	}

	if !out.OK() {
		s.logger.Error("spider failed to run successfully",
			zap.Int("exit_code", res.ExitCode),
			zap.Int("items", res.Items),
			zap.Error(err),
		)
		msg := "spider exited with errors"
		if err != nil {
			msg = err.Error()
		}
		s.emit(Event{Type: EventError, Stage: StageRunning, Message: msg})
		return out
	}
	s.logger.Info("spider finished", zap.Int("items", res.Items), zap.String("items_file", res.ItemsFile))
	s.emit(Event{Type: EventDone, Stage: StageRunning, Message: fmt.Sprintf("%d items", res.Items)})
	return out
}

func (s *Session) emit(ev Event) {
	if s.observer == nil {
		return
	}
	ev.SessionID = s.ID
	ev.Time = time.Now()
	s.observer(ev)
}

func (s *Session) record(result string, start time.Time, attempts int) {
	if s.deps.Recorder != nil {
		s.deps.Recorder.RecordSession(result, time.Since(start), attempts)
	}
}

func anySucceeded(memory []scrape.ActionMemory) bool {
	for _, m := range memory {
		if m.AnySucceeded() {
			return true
		}
	}
	return false
}
