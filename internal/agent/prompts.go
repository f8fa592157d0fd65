package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/Anko59/AutoHubble/internal/browser"
	"github.com/Anko59/AutoHubble/internal/runner"
	"github.com/Anko59/AutoHubble/internal/scrape"
	"github.com/Anko59/AutoHubble/internal/simplify"
)

const pageAnalysisPrompt = `You analyze one web page so that a Scrapy spider can be written for the site.
You receive the simplified page markup, JSON found in its scripts, the network requests the page made,
credentials seen in storage and cookies, and the analyses of pages visited before this one.
Identify where the data lives (HTML, embedded JSON or an API), the selectors or key paths that reach it,
how pagination works, whether JavaScript is required, and which links lead to more data pages.
Only list links on the same site. Answer with JSON matching the schema and nothing else.`

const websiteAnalysisPrompt = `You merge the analyses of several pages of one website into a single plan for a Scrapy spider.
Pick the spider type and extraction strategy, list the start URLs, the data elements with their
extraction method, pagination, API endpoints and tokens the spider needs, and the settings,
pipelines and middlewares to use. Include a sample parse function.
Answer with JSON matching the schema and nothing else.`

const generatorPrompt = `You write Scrapy spiders. Given the site analysis, the current project files and the outcome of
your previous actions, propose the next batch of file operations.
Each operation creates, overwrites, appends to or deletes one file; paths are relative to the project root.
Creating an existing file fails, and editing a missing file fails. Use overwrite to replace a file.
Set is_final when the spider is complete and ready to be tested.
Answer with JSON matching the schema and nothing else.`

func debuggerPrompt(timeout time.Duration) string {
	return fmt.Sprintf(`You review a test run of a generated Scrapy spider.
The spider was stopped after %s if it had not finished; being stopped is expected and is not a failure by itself.
Decide whether the run was successful: items were scraped and they contain the requested fields.
Give concrete recommendations that the code generator can act on.
When you cannot tell what is wrong without looking at a specific page again, set needs_more_info,
give the page in url_to_analyze and say what to look for in analysis_instructions.
Answer with JSON matching the schema and nothing else.`, timeout)
}

var generatorRequirements = []string{
	"Subclass scrapy.Spider and implement parse",
	"Follow pagination when the site has it",
	"Yield one item per scraped record with the target fields as keys",
	"Keep the spider name declared in the entry file",
	"Write paths relative to the project root",
}

type navigatorContext struct {
	PreviousPages        []scrape.PageAnalysis   `json:"previous_pages"`
	PageSource           string                  `json:"page_source"`
	NetworkRequests      []browser.Request       `json:"network_requests"`
	JSONData             []simplify.EmbeddedJSON `json:"json_data"`
	Tokens               []scrape.Token          `json:"tokens"`
	SpecificInstructions string                  `json:"specific_instructions,omitempty"`
}

type synthesisContext struct {
	StartURL string                `json:"start_url"`
	Pages    []scrape.PageAnalysis `json:"all_page_analyses"`
}

type generatorContext struct {
	WebsiteStructure   *scrape.WebsiteAnalysis `json:"website_structure"`
	CurrentProjectCode []scrape.ProjectFile    `json:"current_project_code"`
	TargetFields       map[string]string       `json:"target_fields"`
	SpiderName         string                  `json:"spider_name"`
	EntryPoint         string                  `json:"entry_point"`
	PreviousActions    []scrape.ActionMemory   `json:"previous_actions"`
	DebugFeedback      *scrape.TestResult      `json:"debug_feedback,omitempty"`
	Requirements       []string                `json:"requirements"`
}

type debuggerContext struct {
	WebsiteAnalysis  *scrape.WebsiteAnalysis `json:"website_analysis"`
	DebuggingHistory []scrape.TestResult     `json:"debugging_history"`
	Stdout           string                  `json:"stdout"`
	Stderr           string                  `json:"stderr"`
	ItemsScraped     int                     `json:"items_scraped"`
	Stats            map[string]string       `json:"stats,omitempty"`
	Errors           []string                `json:"errors,omitempty"`
	SpiderCode       []scrape.ProjectFile    `json:"spider_code"`
	Supplement       []scrape.PageAnalysis   `json:"supplementary_pages,omitempty"`
}

func newDebuggerContext(analysis *scrape.WebsiteAnalysis, history []scrape.TestResult, run runner.RunResult, items int, code []scrape.ProjectFile) debuggerContext {
	return debuggerContext{
		WebsiteAnalysis:  analysis,
		DebuggingHistory: history,
		Stdout:           run.Stdout,
		Stderr:           run.Stderr,
		ItemsScraped:     items,
		Stats:            run.Stats.Values,
		Errors:           run.Stats.Errors,
		SpiderCode:       code,
	}
}

func timeoutNote(d time.Duration) string {
	return fmt.Sprintf("\n\nSpider execution timed out after %s", d.Round(time.Millisecond))
}

func withNoItemsPrefix(recommendations string) string {
	const prefix = "No items were scraped. "
	if strings.HasPrefix(recommendations, prefix) {
		return recommendations
	}
	return prefix + recommendations
}
