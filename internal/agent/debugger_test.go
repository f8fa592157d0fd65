package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Anko59/AutoHubble/internal/browser"
	"github.com/Anko59/AutoHubble/internal/llm"
	"github.com/Anko59/AutoHubble/internal/runner"
	"github.com/Anko59/AutoHubble/internal/scrape"
	"github.com/Anko59/AutoHubble/internal/simplify"
)

type debuggerFixture struct {
	debugger *Debugger
	input    TestInput
	runner   *fakeRunner
	loader   *fakeLoader
}

func newDebuggerFixture(t *testing.T, fake *fakeLLM, run *fakeRunner) debuggerFixture {
	t.Helper()
	ws := testWorkspace(t)
	dir := ws.ProjectDir("example")
	entry, err := ws.SetupProject(dir, "example")
	require.NoError(t, err)

	loader := &fakeLoader{pages: map[string]*browser.Page{
		"https://shop.example.com/item/1": {URL: "https://shop.example.com/item/1", Title: "Item", HTML: "<p>12.00 EUR</p>"},
	}}
	limits := testLimits()
	nav := NewNavigator(fake, loader.factory(), simplify.New(), limits, nil)
	return debuggerFixture{
		debugger: NewDebugger(fake, run, ws, nav, limits, nil),
		input:    TestInput{ProjectDir: dir, EntryPoint: entry, Analysis: &scrape.WebsiteAnalysis{}},
		runner:   run,
		loader:   loader,
	}
}

func TestDebuggerZeroItemsForcesFailure(t *testing.T) {
	fake := newFakeLLM().always(llm.RoleDebugger, scrape.TestResult{Success: true, ItemsScraped: 40, Recommendations: "ship it"})
	fx := newDebuggerFixture(t, fake, &fakeRunner{results: []runner.RunResult{{ExitedCleanly: true, Items: 0}}})

	res, err := fx.debugger.Test(context.Background(), fx.input)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Zero(t, res.ItemsScraped)
	require.Equal(t, "No items were scraped. ship it", res.Recommendations)
	require.Equal(t, "example", fx.runner.specs[0].Spider)
	require.Equal(t, testLimits().SpiderTimeout, fx.runner.specs[0].Timeout)
}

func TestDebuggerOverridesItemCount(t *testing.T) {
	fake := newFakeLLM().always(llm.RoleDebugger, scrape.TestResult{Success: true, ItemsScraped: 99})
	fx := newDebuggerFixture(t, fake, &fakeRunner{results: []runner.RunResult{{ExitedCleanly: true, Items: 5}}})

	res, err := fx.debugger.Test(context.Background(), fx.input)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 5, res.ItemsScraped)
}

func TestDebuggerRunErrorSkipsCritic(t *testing.T) {
	fake := newFakeLLM().always(llm.RoleDebugger, scrape.TestResult{Success: true})
	fx := newDebuggerFixture(t, fake, &fakeRunner{err: errors.New("exec: \"scrapy\": executable file not found in $PATH")})

	res, err := fx.debugger.Test(context.Background(), fx.input)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.True(t, strings.HasPrefix(res.Recommendations, "Failed to run spider: "))
	require.Empty(t, fake.calls(llm.RoleDebugger))
}

func TestDebuggerMissingSpiderName(t *testing.T) {
	fake := newFakeLLM()
	fx := newDebuggerFixture(t, fake, &fakeRunner{results: []runner.RunResult{{}}})
	fx.input.EntryPoint = "example_spider/spiders/missing.py"

	res, err := fx.debugger.Test(context.Background(), fx.input)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Contains(t, res.Recommendations, "Could not determine spider name")
	require.Zero(t, fx.runner.runs())
}

func TestDebuggerTimeoutIsAnalyzed(t *testing.T) {
	fake := newFakeLLM().always(llm.RoleDebugger, scrape.TestResult{Success: true})
	fx := newDebuggerFixture(t, fake, &fakeRunner{results: []runner.RunResult{{TimedOut: true, Items: 3, Stdout: "partial"}}})

	res, err := fx.debugger.Test(context.Background(), fx.input)
	require.NoError(t, err)
	require.True(t, res.Success)

	sent := fake.calls(llm.RoleDebugger)[0].Content.(debuggerContext)
	require.True(t, strings.HasPrefix(sent.Stdout, "partial"))
	require.Contains(t, sent.Stdout, "Spider execution timed out after")
	require.Equal(t, 3, sent.ItemsScraped)
}

func TestDebuggerFetchesRequestedPage(t *testing.T) {
	fake := newFakeLLM().
		on(llm.RoleDebugger, func(n int, req llm.Request) (any, error) {
			if n == 1 {
				return scrape.TestResult{
					NeedsMoreInfo:        true,
					URLToAnalyze:         "https://shop.example.com/item/1",
					AnalysisInstructions: "find the price element",
				}, nil
			}
			return scrape.TestResult{Success: true, Recommendations: "price is in p"}, nil
		}).
		always(llm.RoleNavigator, scrape.PageAnalysis{MainContentSelector: "p"})
	fx := newDebuggerFixture(t, fake, &fakeRunner{results: []runner.RunResult{{ExitedCleanly: true, Items: 1}}})

	res, err := fx.debugger.Test(context.Background(), fx.input)
	require.NoError(t, err)
	require.True(t, res.Success)

	crit := fake.calls(llm.RoleDebugger)
	require.Len(t, crit, 2)
	supp := crit[1].Content.(debuggerContext).Supplement
	require.Len(t, supp, 1)
	require.Equal(t, "Item", supp[0].Title)

	nav := fake.calls(llm.RoleNavigator)
	require.Len(t, nav, 1)
	require.Equal(t, "find the price element", nav[0].Content.(navigatorContext).SpecificInstructions)
	require.Equal(t, 1, fx.loader.quit)
}

func TestDebuggerDetourIsBounded(t *testing.T) {
	fake := newFakeLLM().
		always(llm.RoleDebugger, scrape.TestResult{NeedsMoreInfo: true, URLToAnalyze: "https://shop.example.com/item/1"}).
		always(llm.RoleNavigator, scrape.PageAnalysis{})
	fx := newDebuggerFixture(t, fake, &fakeRunner{results: []runner.RunResult{{Items: 1}}})

	_, err := fx.debugger.Test(context.Background(), fx.input)
	require.NoError(t, err)
	require.Len(t, fake.calls(llm.RoleDebugger), 1+testLimits().MaxDebugLoops)
}

func TestDebuggerDetourStopsWhenFetchFails(t *testing.T) {
	fake := newFakeLLM().
		always(llm.RoleDebugger, scrape.TestResult{NeedsMoreInfo: true, URLToAnalyze: "https://shop.example.com/unknown"})
	fx := newDebuggerFixture(t, fake, &fakeRunner{results: []runner.RunResult{{Items: 1}}})

	_, err := fx.debugger.Test(context.Background(), fx.input)
	require.NoError(t, err)
	require.Len(t, fake.calls(llm.RoleDebugger), 1)
}

func TestDebuggerCriticExhaustionPropagates(t *testing.T) {
	fake := newFakeLLM()
	fx := newDebuggerFixture(t, fake, &fakeRunner{results: []runner.RunResult{{Items: 1}}})

	_, err := fx.debugger.Test(context.Background(), fx.input)
	require.ErrorIs(t, err, llm.ErrExhausted)
}
