package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const stealthJS = `
Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
window.navigator.chrome = {runtime: {}};
Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3]});
Object.defineProperty(navigator, 'languages', {get: () => ['en-US', 'en']});
`

const localStorageJS = `(() => { try { return Object.entries(localStorage); } catch (e) { return []; } })()`

// ChromeOptions configures the headless browser.
type ChromeOptions struct {
	Headless          bool
	UserAgent         string
	PageLoadWait      time.Duration
	NavigationTimeout time.Duration
	ExecPath          string
}

// ChromeLoader renders pages in Chrome through the DevTools protocol and
// captures network traffic, cookies and localStorage.
type ChromeLoader struct {
	opts   ChromeOptions
	logger *zap.Logger

	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc

	mu       sync.Mutex
	requests []Request
	index    map[network.RequestID]int
}

// NewChromeLoader creates a loader; the browser starts on Start.
func NewChromeLoader(opts ChromeOptions, logger *zap.Logger) *ChromeLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	opts.PageLoadWait = orDefault(opts.PageLoadWait, 3*time.Second)
	opts.NavigationTimeout = orDefault(opts.NavigationTimeout, 30*time.Second)
	return &ChromeLoader{opts: opts, logger: logger}
}

// Start launches the browser and opens the tab used for every load.
func (l *ChromeLoader) Start(ctx context.Context) error {
	if l.tabCtx != nil {
		return nil
	}
	flags := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(l.opts.UserAgent),
	)
	if l.opts.ExecPath != "" {
		flags = append(flags, chromedp.ExecPath(l.opts.ExecPath))
	}

	// The browser outlives the caller's context; Quit tears it down.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), flags...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	chromedp.ListenTarget(tabCtx, l.onEvent)

	startCtx, cancel := context.WithTimeout(tabCtx, l.opts.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(startCtx,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthJS).Do(ctx)
			return err
		}),
	)
	if err != nil {
		tabCancel()
		allocCancel()
		return fmt.Errorf("start chrome: %w", err)
	}

	l.tabCtx, l.tabCancel, l.allocCancel = tabCtx, tabCancel, allocCancel
	l.logger.Debug("chrome started", zap.Bool("headless", l.opts.Headless))
	return nil
}

// Load navigates to url, waits for the page to settle and collects its state.
func (l *ChromeLoader) Load(ctx context.Context, url string) (*Page, error) {
	if l.tabCtx == nil {
		return nil, errors.New("chrome loader not started")
	}

	l.mu.Lock()
	l.requests = nil
	l.index = make(map[network.RequestID]int)
	l.mu.Unlock()

	runCtx, cancel := context.WithTimeout(l.tabCtx, l.opts.NavigationTimeout+l.opts.PageLoadWait)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var (
		title, html, location string
		storage               [][]string
		cookies               []*network.Cookie
	)
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.Sleep(l.opts.PageLoadWait),
		chromedp.Location(&location),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Evaluate(localStorageJS, &storage),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().Do(ctx)
			return err
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("load %s: %w", url, err)
	}

	jar := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		expires := ""
		if !c.Session {
			expires = unixExpiry(c.Expires)
		}
		jar = append(jar, Cookie{Name: c.Name, Value: c.Value, Expires: expires})
	}

	l.mu.Lock()
	requests := make([]Request, 0, len(l.requests))
	for _, r := range l.requests {
		if IsRelevantRequest(r.URL, r.ResponseType) {
			requests = append(requests, r)
		}
	}
	l.mu.Unlock()

	if location == "" {
		location = url
	}
	l.logger.Debug("page loaded", zap.String("url", location), zap.Int("requests", len(requests)))
	return &Page{
		URL:      location,
		Title:    title,
		HTML:     html,
		Requests: requests,
		Tokens:   ExtractTokens(storage, jar),
	}, nil
}

// Quit closes the tab and the browser. It is safe to call more than once.
func (l *ChromeLoader) Quit() error {
	if l.tabCancel != nil {
		l.tabCancel()
	}
	if l.allocCancel != nil {
		l.allocCancel()
	}
	l.tabCtx, l.tabCancel, l.allocCancel = nil, nil, nil
	return nil
}

func (l *ChromeLoader) onEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		if skipResource(e.Type) || !IsRelevantRequest(e.Request.URL, "") {
			return
		}
		kind := "regular"
		if e.Type == network.ResourceTypeXHR || e.Type == network.ResourceTypeFetch {
			kind = "xhr"
		}
		headers := make(map[string]string, len(e.Request.Headers))
		for k, v := range e.Request.Headers {
			headers[k] = fmt.Sprint(v)
		}
		l.mu.Lock()
		if l.index != nil {
			l.index[e.RequestID] = len(l.requests)
			l.requests = append(l.requests, Request{
				URL:     e.Request.URL,
				Method:  e.Request.Method,
				Type:    kind,
				Headers: headers,
			})
		}
		l.mu.Unlock()
	case *network.EventResponseReceived:
		if e.Response == nil {
			return
		}
		l.mu.Lock()
		if i, ok := l.index[e.RequestID]; ok {
			l.requests[i].ResponseType = e.Response.MimeType
		}
		l.mu.Unlock()
	}
}

func skipResource(t network.ResourceType) bool {
	switch t {
	case network.ResourceTypeImage, network.ResourceTypeStylesheet, network.ResourceTypeFont, network.ResourceTypeMedia:
		return true
	}
	return false
}
