package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Anko59/AutoHubble/internal/browser"
	"github.com/Anko59/AutoHubble/internal/llm"
	"github.com/Anko59/AutoHubble/internal/logging"
	"github.com/Anko59/AutoHubble/internal/scrape"
)

// Navigator explores a site and produces the analysis the generator works from.
type Navigator struct {
	llm        llm.Completer
	newLoader  LoaderFactory
	simplifier PageSimplifier
	limits     Limits
	logger     *zap.Logger
}

// NewNavigator builds a navigator.
func NewNavigator(c llm.Completer, newLoader LoaderFactory, s PageSimplifier, limits Limits, logger *zap.Logger) *Navigator {
	return &Navigator{
		llm:        c,
		newLoader:  newLoader,
		simplifier: s,
		limits:     limits,
		logger:     logging.OrNop(logger),
	}
}

// AnalyzeWebsite walks the site breadth first from startURL, analyzing up to
// MaxLinks new pages per level for MaxDepth levels, then merges the page
// analyses. Failing to analyze the start page is fatal; later pages are skipped.
func (n *Navigator) AnalyzeWebsite(ctx context.Context, startURL string) (*scrape.WebsiteAnalysis, error) {
	origin, err := scrape.Origin(startURL)
	if err != nil {
		return nil, fmt.Errorf("%w: start url: %v", ErrPrecondition, err)
	}

	var pages []scrape.PageAnalysis
	err = n.withLoader(ctx, func(loader browser.Loader) error {
		visited := make(map[string]bool)
		level := []string{startURL}
		for depth := 0; depth < n.limits.MaxDepth && len(level) > 0; depth++ {
			var next []string
			analyzed := 0
			for _, raw := range level {
				if analyzed >= n.limits.MaxLinks {
					break
				}
				target, ok := scrape.ResolveLink(origin, raw)
				if !ok {
					n.logger.Warn("skipping invalid url", zap.String("url", raw))
					continue
				}
				if visited[target] {
					continue
				}
				visited[target] = true
				analyzed++

				page, err := n.analyzePage(ctx, loader, target, pages, "")
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					if depth == 0 {
						return fmt.Errorf("analyze start page %s: %w", target, err)
					}
					n.logger.Warn("page analysis failed, continuing", zap.String("url", target), zap.Int("depth", depth), zap.Error(err))
					continue
				}
				pages = append(pages, *page)
				next = append(next, page.LinksToFollow...)
			}
			level = next
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	n.logger.Info("synthesizing website analysis", zap.Int("pages", len(pages)))
	analysis, err := llm.CompleteAs[scrape.WebsiteAnalysis](ctx, n.llm, llm.Request{
		Role:    llm.RoleSummarizer,
		System:  websiteAnalysisPrompt,
		Content: synthesisContext{StartURL: startURL, Pages: pages},
		Schema:  scrape.WebsiteAnalysisSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize website analysis: %w", err)
	}
	if analysis.BaseURL == "" {
		analysis.BaseURL = origin
	}
	if len(analysis.StartURLs) == 0 {
		analysis.StartURLs = []string{startURL}
	}
	return &analysis, nil
}

// AnalyzeSpecificPage analyzes a single page following instructions, with its
// own loader lifecycle.
func (n *Navigator) AnalyzeSpecificPage(ctx context.Context, url, instructions string) (*scrape.PageAnalysis, error) {
	n.logger.Info("analyzing specific page", zap.String("url", url), zap.String("instructions", instructions))
	if _, err := scrape.Origin(url); err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", url, err)
	}
	var page *scrape.PageAnalysis
	err := n.withLoader(ctx, func(loader browser.Loader) error {
		var err error
		page, err = n.analyzePage(ctx, loader, url, nil, instructions)
		return err
	})
	return page, err
}

func (n *Navigator) withLoader(ctx context.Context, fn func(browser.Loader) error) error {
	loader, err := n.newLoader()
	if err != nil {
		return fmt.Errorf("create page loader: %w", err)
	}
	if err := loader.Start(ctx); err != nil {
		return fmt.Errorf("start page loader: %w", err)
	}
	defer func() {
		if err := loader.Quit(); err != nil {
			n.logger.Warn("page loader quit failed", zap.Error(err))
		}
	}()
	return fn(loader)
}

func (n *Navigator) analyzePage(ctx context.Context, loader browser.Loader, url string, previous []scrape.PageAnalysis, instructions string) (*scrape.PageAnalysis, error) {
	n.logger.Info("loading page", zap.String("url", url))
	page, err := loader.Load(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", url, err)
	}

	simplified, err := n.simplifier.Simplify(ctx, page.HTML)
	if err != nil {
		return nil, fmt.Errorf("simplify %s: %w", url, err)
	}
	n.logger.Debug("page collected",
		zap.String("url", url),
		zap.Int("markup_chars", len(simplified.Markup)),
		zap.Int("json_blobs", len(simplified.JSON)),
		zap.Int("requests", len(page.Requests)),
		zap.Int("tokens", len(page.Tokens)),
	)

	analysis, err := llm.CompleteAs[scrape.PageAnalysis](ctx, n.llm, llm.Request{
		Role:   llm.RoleNavigator,
		System: pageAnalysisPrompt,
		Content: navigatorContext{
			PreviousPages:        previous,
			PageSource:           simplified.Markup,
			NetworkRequests:      page.Requests,
			JSONData:             simplified.JSON,
			Tokens:               page.Tokens,
			SpecificInstructions: instructions,
		},
		Schema: scrape.PageAnalysisSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", url, err)
	}

	analysis.URL = page.URL
	if analysis.URL == "" {
		analysis.URL = url
	}
	analysis.Title = page.Title
	return &analysis, nil
}
