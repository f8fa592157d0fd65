package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Anko59/AutoHubble/internal/llm"
	"github.com/Anko59/AutoHubble/internal/scrape"
)

func setupGenerator(t *testing.T, fake *fakeLLM, limits Limits) (*Generator, GenerateInput) {
	t.Helper()
	ws := testWorkspace(t)
	dir := ws.ProjectDir("example")
	entry, err := ws.SetupProject(dir, "example")
	require.NoError(t, err)
	return NewGenerator(fake, ws, limits, nil), GenerateInput{
		Analysis:     &scrape.WebsiteAnalysis{},
		TargetFields: testFields,
		SpiderName:   "example",
		ProjectDir:   dir,
		EntryPoint:   entry,
	}
}

func TestGeneratorFinalWithAllFailedOperationsContinues(t *testing.T) {
	fake := newFakeLLM().on(llm.RoleGenerator, func(n int, req llm.Request) (any, error) {
		if n == 1 {
			// create on an existing file fails
			return scrape.GeneratorAction{
				Actions: []scrape.FileAction{{File: testEntry, ActionType: scrape.ActionCreate, Content: testSpider}},
				IsFinal: true,
			}, nil
		}
		return finalOverwrite(), nil
	})
	gen, in := setupGenerator(t, fake, testLimits())

	var seen []scrape.ActionMemory
	in.OnAction = func(m scrape.ActionMemory) { seen = append(seen, m) }

	phase, err := gen.Generate(context.Background(), in)
	require.NoError(t, err)
	require.True(t, phase.Finished)
	require.Len(t, phase.Actions, 2)
	require.False(t, phase.Actions[0].AnySucceeded())
	require.Equal(t, "File "+testEntry+" already exists. Skipping.", phase.Actions[0].Feedback[0].Message)
	require.True(t, phase.Actions[1].AnySucceeded())
	require.Len(t, seen, 2)

	second := fake.calls(llm.RoleGenerator)[1].Content.(generatorContext)
	require.Len(t, second.PreviousActions, 1)
	require.False(t, second.PreviousActions[0].Feedback[0].Success)
}

func TestGeneratorCapsActions(t *testing.T) {
	fake := newFakeLLM().always(llm.RoleGenerator, scrape.GeneratorAction{
		Actions: []scrape.FileAction{{File: "notes.py", ActionType: scrape.ActionAppend, Content: "# more\n"}},
	})
	limits := testLimits()
	limits.MaxActions = 3
	gen, in := setupGenerator(t, fake, limits)

	phase, err := gen.Generate(context.Background(), in)
	require.NoError(t, err)
	require.False(t, phase.Finished)
	require.Len(t, phase.Actions, 3)
	require.Len(t, fake.calls(llm.RoleGenerator), 3)
}

func TestGeneratorSendsProjectSnapshot(t *testing.T) {
	fake := newFakeLLM().always(llm.RoleGenerator, finalOverwrite())
	gen, in := setupGenerator(t, fake, testLimits())
	in.Memory = []scrape.ActionMemory{{Feedback: []scrape.ActionFeedback{{Success: true, Message: "Created file x.py"}}}}

	_, err := gen.Generate(context.Background(), in)
	require.NoError(t, err)

	req := fake.calls(llm.RoleGenerator)[0]
	require.Equal(t, scrape.GeneratorActionSchema, req.Schema)
	ctx := req.Content.(generatorContext)
	require.Equal(t, "example", ctx.SpiderName)
	require.Len(t, ctx.PreviousActions, 1)
	paths := make([]string, 0, len(ctx.CurrentProjectCode))
	for _, f := range ctx.CurrentProjectCode {
		paths = append(paths, f.Path)
	}
	require.Contains(t, paths, testEntry)
	require.Contains(t, paths, "scrapy.cfg")
}
