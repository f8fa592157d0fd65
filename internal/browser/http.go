package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

// HTTPOptions configures the static loader.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
}

// HTTPLoader fetches pages without executing JavaScript. It suits static
// sites and environments without Chrome.
type HTTPLoader struct {
	opts   HTTPOptions
	client *resty.Client
}

// NewHTTPLoader creates a loader; the client is built on Start.
func NewHTTPLoader(opts HTTPOptions) *HTTPLoader {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	opts.Timeout = orDefault(opts.Timeout, 30*time.Second)
	return &HTTPLoader{opts: opts}
}

func (l *HTTPLoader) Start(ctx context.Context) error {
	l.client = resty.New().
		SetTimeout(l.opts.Timeout).
		SetHeader("User-Agent", l.opts.UserAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
	return nil
}

func (l *HTTPLoader) Load(ctx context.Context, url string) (*Page, error) {
	if l.client == nil {
		return nil, errors.New("http loader not started")
	}
	res, err := l.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", url, err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("load %s: status %d", url, res.StatusCode())
	}

	body := string(res.Body())
	title := ""
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(body)); err == nil {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	final := url
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		final = res.RawResponse.Request.URL.String()
	}

	jar := make([]Cookie, 0, len(res.Cookies()))
	for _, c := range res.Cookies() {
		jar = append(jar, Cookie{Name: c.Name, Value: c.Value, Expires: cookieExpiry(c)})
	}

	headers := map[string]string{}
	for k := range res.Request.Header {
		headers[k] = res.Request.Header.Get(k)
	}

	return &Page{
		URL:   final,
		Title: title,
		HTML:  body,
		Requests: []Request{{
			URL:          final,
			Method:       http.MethodGet,
			Type:         "document",
			Headers:      headers,
			ResponseType: res.Header().Get("Content-Type"),
		}},
		Tokens: ExtractTokens(nil, jar),
	}, nil
}

func (l *HTTPLoader) Quit() error {
	l.client = nil
	return nil
}

func cookieExpiry(c *http.Cookie) string {
	if c.Expires.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d", c.Expires.Unix())
}
