package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Anko59/AutoHubble/internal/browser"
	"github.com/Anko59/AutoHubble/internal/llm"
	"github.com/Anko59/AutoHubble/internal/scrape"
	"github.com/Anko59/AutoHubble/internal/simplify"
)

func page(url, title string) *browser.Page {
	return &browser.Page{URL: url, Title: title, HTML: "<html><body><h1>" + title + "</h1></body></html>"}
}

func TestAnalyzeWebsiteTraversesBreadthFirst(t *testing.T) {
	loader := &fakeLoader{pages: map[string]*browser.Page{
		"https://shop.example.com/":        page("https://shop.example.com/", "Home"),
		"https://shop.example.com/b":       page("https://shop.example.com/b", "B"),
		"https://shop.example.com/b/deep":  page("https://shop.example.com/b/deep", "Deep"),
		"https://shop.example.com/too/far": page("https://shop.example.com/too/far", "Far"),
	}}
	links := map[string][]string{
		"Home": {"/a", "/b", "/b#reviews", "javascript:void(0)", "mailto:x@example.com"},
		"B":    {"/b/deep", "/"},
		"Deep": {"/too/far"},
	}
	fake := newFakeLLM().
		on(llm.RoleNavigator, func(n int, req llm.Request) (any, error) {
			title := ""
			if html := req.Content.(navigatorContext).PageSource; html != "" {
				for k := range links {
					if strings.Contains(html, ">"+k+"<") {
						title = k
					}
				}
			}
			return scrape.PageAnalysis{LinksToFollow: links[title]}, nil
		}).
		always(llm.RoleSummarizer, scrape.WebsiteAnalysis{SpiderType: "CrawlSpider"})

	limits := testLimits()
	limits.MaxDepth = 3
	nav := NewNavigator(fake, loader.factory(), simplify.New(), limits, nil)

	analysis, err := nav.AnalyzeWebsite(context.Background(), "https://shop.example.com/")
	require.NoError(t, err)
	require.Equal(t, "https://shop.example.com", analysis.BaseURL)
	require.Equal(t, []string{"https://shop.example.com/"}, analysis.StartURLs)

	// /a fails to load and is skipped; /b#reviews collapses onto /b; / is not revisited.
	require.Equal(t, []string{
		"https://shop.example.com/",
		"https://shop.example.com/a",
		"https://shop.example.com/b",
		"https://shop.example.com/b/deep",
	}, loader.loaded)
	require.Equal(t, 1, loader.started)
	require.Equal(t, 1, loader.quit)

	synth := fake.calls(llm.RoleSummarizer)
	require.Len(t, synth, 1)
	pages := synth[0].Content.(synthesisContext).Pages
	require.Len(t, pages, 3)
	require.Equal(t, "Home", pages[0].Title)
	require.Equal(t, "https://shop.example.com/b", pages[1].URL)

	nav2 := fake.calls(llm.RoleNavigator)
	require.Len(t, nav2[2].Content.(navigatorContext).PreviousPages, 2)
}

func TestAnalyzeWebsiteStartPageFailureIsFatal(t *testing.T) {
	loader := &fakeLoader{}
	fake := newFakeLLM().always(llm.RoleSummarizer, scrape.WebsiteAnalysis{})
	nav := NewNavigator(fake, loader.factory(), simplify.New(), testLimits(), nil)

	_, err := nav.AnalyzeWebsite(context.Background(), "https://down.example.com/")
	require.Error(t, err)
	require.Contains(t, err.Error(), "analyze start page")
	require.Empty(t, fake.calls(llm.RoleSummarizer))
	require.Equal(t, 1, loader.quit)
}

func TestAnalyzeWebsiteRespectsMaxLinks(t *testing.T) {
	pages := map[string]*browser.Page{"https://shop.example.com/": page("https://shop.example.com/", "Home")}
	var homeLinks []string
	for _, p := range []string{"/1", "/2", "/3", "/4"} {
		u := "https://shop.example.com" + p
		pages[u] = page(u, p)
		homeLinks = append(homeLinks, p)
	}
	loader := &fakeLoader{pages: pages}
	fake := newFakeLLM().
		on(llm.RoleNavigator, func(n int, req llm.Request) (any, error) {
			if n == 1 {
				return scrape.PageAnalysis{LinksToFollow: homeLinks}, nil
			}
			return scrape.PageAnalysis{}, nil
		}).
		always(llm.RoleSummarizer, scrape.WebsiteAnalysis{})

	limits := testLimits()
	limits.MaxLinks = 2
	nav := NewNavigator(fake, loader.factory(), simplify.New(), limits, nil)

	_, err := nav.AnalyzeWebsite(context.Background(), "https://shop.example.com/")
	require.NoError(t, err)
	require.Len(t, loader.loaded, 3)
}

func TestAnalyzeSpecificPageOverwritesURLAndTitle(t *testing.T) {
	loader := &fakeLoader{pages: map[string]*browser.Page{
		"https://shop.example.com/p": page("https://shop.example.com/p?ref=1", "Product"),
	}}
	fake := newFakeLLM().always(llm.RoleNavigator, scrape.PageAnalysis{URL: "https://hallucinated.example", Title: "nope"})
	nav := NewNavigator(fake, loader.factory(), simplify.New(), testLimits(), nil)

	got, err := nav.AnalyzeSpecificPage(context.Background(), "https://shop.example.com/p", "look at prices")
	require.NoError(t, err)
	require.Equal(t, "https://shop.example.com/p?ref=1", got.URL)
	require.Equal(t, "Product", got.Title)
	require.Equal(t, 1, loader.quit)

	_, err = nav.AnalyzeSpecificPage(context.Background(), "/relative", "")
	require.Error(t, err)
}
