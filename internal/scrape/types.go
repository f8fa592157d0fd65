package scrape

// ExtractionMethod is the primary way data is obtained from a page.
type ExtractionMethod string

const (
	ExtractHTML  ExtractionMethod = "html"
	ExtractJSON  ExtractionMethod = "json"
	ExtractAPI   ExtractionMethod = "api"
	ExtractMixed ExtractionMethod = "mixed"
)

// HTMLElement is a markup element that carries target data.
type HTMLElement struct {
	Selector    string `json:"selector"`
	SampleValue string `json:"sample_value"`
	Description string `json:"description"`
}

// JSONElement is a value inside an embedded JSON document.
type JSONElement struct {
	KeyPath     string `json:"key_path"`
	SampleValue string `json:"sample_value"`
	Description string `json:"description"`
	XPath       string `json:"xpath"`
}

// DataElement is a field to extract across the website.
type DataElement struct {
	Type             string `json:"type"`
	Name             string `json:"name"`
	ExtractionMethod string `json:"extraction_method"`
	SampleValue      string `json:"sample_value"`
	Description      string `json:"description"`
}

// PaginationInfo describes how to reach further result pages.
type PaginationInfo struct {
	Method          string `json:"method"`
	SelectorOrParam string `json:"selector_or_param"`
	MaxPages        int    `json:"max_pages"`
}

// APIEndpoint is a backend call observed or inferred for a page.
type APIEndpoint struct {
	URL     string `json:"url"`
	Method  string `json:"method"`
	Params  string `json:"params"`
	Headers string `json:"headers"`
}

// Token is an authentication or session value a spider may need.
type Token struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	Value     string `json:"value"`
	Selector  string `json:"selector"`
	TokenType string `json:"token_type"`
}

// PageAnalysis is the navigator's reading of one page.
type PageAnalysis struct {
	URL                 string           `json:"url"`
	Title               string           `json:"title"`
	ExtractionMethod    ExtractionMethod `json:"extraction_method"`
	HTMLElements        []HTMLElement    `json:"html_elements"`
	JSONElements        []JSONElement    `json:"json_elements"`
	PaginationInfo      PaginationInfo   `json:"pagination_info"`
	APIEndpoints        []APIEndpoint    `json:"api_endpoints"`
	JavascriptRequired  bool             `json:"javascript_required"`
	DynamicContent      bool             `json:"dynamic_content"`
	MainContentSelector string           `json:"main_content_selector"`
	LinksToFollow       []string         `json:"links_to_follow"`
	Tokens              []Token          `json:"tokens"`
	Remarks             []string         `json:"remarks"`
}

// WebsiteAnalysis is the synthesized plan for a whole website.
type WebsiteAnalysis struct {
	BaseURL                   string           `json:"base_url"`
	SpiderName                string           `json:"spider_name"`
	SpiderType                string           `json:"spider_type"`
	StartURLs                 []string         `json:"start_urls"`
	CustomSettings            string           `json:"custom_settings"`
	Tokens                    []Token          `json:"tokens"`
	ExtractionStrategy        ExtractionMethod `json:"extraction_strategy"`
	MainDataElements          []DataElement    `json:"main_data_elements"`
	GlobalPagination          PaginationInfo   `json:"global_pagination"`
	APIEndpoints              []APIEndpoint    `json:"api_endpoints"`
	JavascriptHandling        string           `json:"javascript_handling"`
	ItemStructure             string           `json:"item_structure"`
	PipelineRecommendations   []string         `json:"pipeline_recommendations"`
	MiddlewareRecommendations []string         `json:"middleware_recommendations"`
	CrawlRules                string           `json:"crawl_rules"`
	SitemapURLs               []string         `json:"sitemap_urls"`
	Challenges                []string         `json:"challenges"`
	PerformanceTips           []string         `json:"performance_tips"`
	SampleParseFunction       string           `json:"sample_parse_function"`
}

// ActionType is the kind of change a FileAction makes.
type ActionType string

const (
	ActionCreate    ActionType = "create"
	ActionOverwrite ActionType = "overwrite"
	ActionAppend    ActionType = "append"
	ActionDelete    ActionType = "delete"
)

// FileAction is one file operation proposed by the generator.
type FileAction struct {
	File       string     `json:"file"`
	ActionType ActionType `json:"action_type"`
	Content    string     `json:"content"`
}

// GeneratorAction is one generator step: a batch of file operations.
type GeneratorAction struct {
	Actions []FileAction `json:"actions"`
	IsFinal bool         `json:"is_final"`
}

// ActionFeedback reports how a single FileAction went.
type ActionFeedback struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ActionMemory pairs a generator step with the outcome of each operation.
type ActionMemory struct {
	Action   GeneratorAction  `json:"action"`
	Feedback []ActionFeedback `json:"feedback"`
}

// AnySucceeded reports whether at least one operation of the step worked.
func (m ActionMemory) AnySucceeded() bool {
	for _, f := range m.Feedback {
		if f.Success {
			return true
		}
	}
	return false
}

// TestResult is the critic's verdict on a spider run.
type TestResult struct {
	Success              bool   `json:"success"`
	ItemsScraped         int    `json:"items_scraped"`
	Recommendations      string `json:"recommendations"`
	NeedsMoreInfo        bool   `json:"needs_more_info"`
	URLToAnalyze         string `json:"url_to_analyze"`
	AnalysisInstructions string `json:"analysis_instructions"`
}

// ProjectFile is a source file of a generated project.
type ProjectFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}
