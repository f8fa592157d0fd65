package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Anko59/AutoHubble/internal/browser"
	"github.com/Anko59/AutoHubble/internal/llm"
	"github.com/Anko59/AutoHubble/internal/runner"
	"github.com/Anko59/AutoHubble/internal/scrape"
)

const (
	testStartURL = "https://shop.example.com/catalog"
	testEntry    = "example_spider/spiders/example.py"
	testSpider   = "import scrapy\n\n\nclass ExampleSpider(scrapy.Spider):\n    name = \"example\"\n"
)

var testFields = map[string]string{"title": "product title", "price": "price with currency"}

func testLimits() Limits {
	l := DefaultLimits()
	l.MaxAttempts = 3
	l.MaxActions = 4
	l.SpiderTimeout = time.Second
	return l
}

func finalOverwrite() scrape.GeneratorAction {
	return scrape.GeneratorAction{
		Actions: []scrape.FileAction{{File: testEntry, ActionType: scrape.ActionOverwrite, Content: testSpider}},
		IsFinal: true,
	}
}

func TestGenerateStopsAfterMaxAttempts(t *testing.T) {
	fake := newFakeLLM().
		always(llm.RoleGenerator, finalOverwrite()).
		always(llm.RoleDebugger, scrape.TestResult{Success: true, Recommendations: "looks fine"})
	run := &fakeRunner{results: []runner.RunResult{{ExitedCleanly: true, Items: 0}}}

	s := NewSession(testDeps(t, fake, run, nil), testStartURL, testFields,
		WithLimits(testLimits()),
		WithAnalysis(&scrape.WebsiteAnalysis{BaseURL: "https://shop.example.com"}),
	)
	report, err := s.Generate(context.Background())
	require.NoError(t, err)
	require.False(t, report.Success)
	require.Equal(t, 3, report.Attempts)
	require.Equal(t, 3, run.runs())
	require.Len(t, fake.calls(llm.RoleGenerator), 3)
	require.Equal(t, "No items were scraped. looks fine", report.Recommendations)
	require.Len(t, s.History(), 3)
	require.Equal(t, testEntry, report.EntryPoint)
	require.Equal(t, "example", report.SpiderName)
}

func TestGenerateThreadsFeedbackAndSucceeds(t *testing.T) {
	fake := newFakeLLM().
		always(llm.RoleGenerator, finalOverwrite()).
		on(llm.RoleDebugger, func(n int, req llm.Request) (any, error) {
			if n == 1 {
				return scrape.TestResult{Recommendations: "price selector is wrong"}, nil
			}
			return scrape.TestResult{Success: true, Recommendations: "all good"}, nil
		})
	run := &fakeRunner{results: []runner.RunResult{{ExitedCleanly: true, Items: 4}}}

	var events []Event
	s := NewSession(testDeps(t, fake, run, nil), testStartURL, testFields,
		WithLimits(testLimits()),
		WithAnalysis(&scrape.WebsiteAnalysis{BaseURL: "https://shop.example.com"}),
		WithObserver(func(ev Event) { events = append(events, ev) }),
	)
	report, err := s.Generate(context.Background())
	require.NoError(t, err)
	require.True(t, report.Success)
	require.Equal(t, 2, report.Attempts)
	require.Equal(t, 4, report.Result.ItemsScraped)

	gen := fake.calls(llm.RoleGenerator)
	require.Len(t, gen, 2)
	first := gen[0].Content.(generatorContext)
	require.Nil(t, first.DebugFeedback)
	second := gen[1].Content.(generatorContext)
	require.NotNil(t, second.DebugFeedback)
	require.Equal(t, "price selector is wrong", second.DebugFeedback.Recommendations)
	require.Len(t, second.PreviousActions, 1)

	crit := fake.calls(llm.RoleDebugger)
	require.Len(t, crit[1].Content.(debuggerContext).DebuggingHistory, 1)

	last := events[len(events)-1]
	require.Equal(t, EventDone, last.Type)
	require.Equal(t, s.ID, last.SessionID)
	require.True(t, last.Report.Success)
}

func TestGeneratePreconditions(t *testing.T) {
	fake := newFakeLLM()
	run := &fakeRunner{results: []runner.RunResult{{}}}

	_, err := NewSession(testDeps(t, fake, run, nil), testStartURL, nil).Generate(context.Background())
	require.ErrorIs(t, err, ErrPrecondition)

	_, err = NewSession(testDeps(t, fake, run, nil), "not a url", testFields).Generate(context.Background())
	require.ErrorIs(t, err, ErrPrecondition)

	require.Empty(t, fake.calls(llm.RoleNavigator))
}

func TestGenerateAnalyzesLazily(t *testing.T) {
	loader := &fakeLoader{pages: map[string]*browser.Page{
		testStartURL: {URL: testStartURL, Title: "Catalog", HTML: "<html><body><h1>Shop</h1></body></html>"},
	}}
	fake := newFakeLLM().
		always(llm.RoleNavigator, scrape.PageAnalysis{ExtractionMethod: scrape.ExtractHTML}).
		always(llm.RoleSummarizer, scrape.WebsiteAnalysis{SpiderType: "CrawlSpider"}).
		always(llm.RoleGenerator, finalOverwrite()).
		always(llm.RoleDebugger, scrape.TestResult{Success: true})
	run := &fakeRunner{results: []runner.RunResult{{ExitedCleanly: true, Items: 1}}}

	s := NewSession(testDeps(t, fake, run, loader), testStartURL, testFields, WithLimits(testLimits()))
	report, err := s.Generate(context.Background())
	require.NoError(t, err)
	require.True(t, report.Success)
	require.Equal(t, "https://shop.example.com", s.Analysis().BaseURL)
	require.Equal(t, 1, loader.started)
	require.Equal(t, 1, loader.quit)
}

func TestGeneratorExhaustionPropagatesWithoutProgress(t *testing.T) {
	fake := newFakeLLM().on(llm.RoleGenerator, func(int, llm.Request) (any, error) {
		return nil, &llm.ExhaustedError{Role: llm.RoleGenerator, Attempts: 3, Last: errors.New("503")}
	})
	run := &fakeRunner{results: []runner.RunResult{{}}}

	s := NewSession(testDeps(t, fake, run, nil), testStartURL, testFields,
		WithLimits(testLimits()),
		WithAnalysis(&scrape.WebsiteAnalysis{}),
	)
	report, err := s.Generate(context.Background())
	require.ErrorIs(t, err, llm.ErrExhausted)
	require.NotNil(t, report)
	require.Equal(t, 1, report.Attempts)
	require.Zero(t, run.runs())
}

func TestGeneratorExhaustionAfterProgressStillTests(t *testing.T) {
	fake := newFakeLLM().
		on(llm.RoleGenerator, func(n int, req llm.Request) (any, error) {
			if n == 1 {
				a := finalOverwrite()
				a.IsFinal = false
				return a, nil
			}
			return nil, &llm.ExhaustedError{Role: llm.RoleGenerator, Attempts: 3, Last: errors.New("429")}
		}).
		always(llm.RoleDebugger, scrape.TestResult{Success: true})
	run := &fakeRunner{results: []runner.RunResult{{ExitedCleanly: true, Items: 2}}}

	s := NewSession(testDeps(t, fake, run, nil), testStartURL, testFields,
		WithLimits(testLimits()),
		WithAnalysis(&scrape.WebsiteAnalysis{}),
	)
	report, err := s.Generate(context.Background())
	require.NoError(t, err)
	require.True(t, report.Success)
	require.Equal(t, 1, run.runs())
	require.Len(t, s.Memory(), 1)
}

func TestGenerateHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fake := newFakeLLM().on(llm.RoleGenerator, func(int, llm.Request) (any, error) {
		cancel()
		return nil, context.Canceled
	})
	run := &fakeRunner{results: []runner.RunResult{{}}}

	s := NewSession(testDeps(t, fake, run, nil), testStartURL, testFields,
		WithLimits(testLimits()),
		WithAnalysis(&scrape.WebsiteAnalysis{}),
	)
	_, err := s.Generate(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, run.runs())
}

func TestRunRequiresProject(t *testing.T) {
	s := NewSession(testDeps(t, newFakeLLM(), &fakeRunner{results: []runner.RunResult{{}}}, nil), testStartURL, testFields)
	rep := s.Run(context.Background())
	require.ErrorIs(t, rep.Err, ErrPrecondition)
	require.False(t, rep.OK())
}

func TestRunExecutesProjectWithoutTimeout(t *testing.T) {
	deps := testDeps(t, newFakeLLM(), &fakeRunner{results: []runner.RunResult{{Spider: "example", ExitedCleanly: true, Items: 7, Stdout: "done"}}}, nil)
	dir := deps.Workspace.ProjectDir("example")
	entry, err := deps.Workspace.SetupProject(dir, "example")
	require.NoError(t, err)

	s := NewSession(deps, "", nil, WithProject(dir, entry))
	rep := s.Run(context.Background())
	require.True(t, rep.OK())
	require.Equal(t, 7, rep.Result.Items)

	run := deps.Runner.(*fakeRunner)
	require.Zero(t, run.specs[0].Timeout)

	stdout, err := os.ReadFile(filepath.Join(rep.LogsDir, "stdout.log"))
	require.NoError(t, err)
	require.Equal(t, "done", string(stdout))
}
