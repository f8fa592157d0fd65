package scrape

import (
	"embed"

	"github.com/Anko59/AutoHubble/internal/llm"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Response schemas for every LLM-produced type.
var (
	PageAnalysisSchema    = mustSchema("page_analysis")
	WebsiteAnalysisSchema = mustSchema("website_analysis")
	GeneratorActionSchema = mustSchema("generator_action")
	TestResultSchema      = mustSchema("test_result")
)

func mustSchema(name string) *llm.Schema {
	raw, err := schemaFS.ReadFile("schemas/" + name + ".json")
	if err != nil {
		panic(err)
	}
	return llm.MustCompileSchema(name, raw)
}
